package tracker

import (
	"context"
	"testing"
	"time"

	"shelfwatch/internal/catalog"
	"shelfwatch/internal/inventory"
	"shelfwatch/internal/storage"
	"shelfwatch/internal/userdata"
	logx "shelfwatch/pkg/logx"
)

func newRunnerFixture(t *testing.T, cfg RunnerConfig) *struct {
	fixture
	runner *Runner
} {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &struct {
		fixture
		runner *Runner
	}{}
	f.fetcher = &fakeFetcher{tag: "api", name: "Acme"}
	f.notifier = &fakeNotifier{}
	f.users = userdata.NewStore(st, nil, logx.Nop())
	f.store = st
	f.engine = NewEngine(f.fetcher, inventory.New(st, logx.Nop()), f.users, f.notifier, logx.Nop())
	f.runner = NewRunner(f.engine, f.users, st, cfg, logx.Nop())
	return f
}

func TestRunCycleChecksTrackedSellers(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, RunnerConfig{SellerDelay: time.Millisecond})
	if err := f.users.AddSeller(ctx, 100, sellerID); err != nil {
		t.Fatal(err)
	}
	f.fetcher.products = []catalog.Product{product("B0C1XYZ001", "One")}

	report, err := f.runner.RunCycle(ctx, false, 0)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.CycleID == "" {
		t.Error("missing cycle ID")
	}
	if report.Sellers != 1 || report.Skipped != 0 || report.Baselined != 1 {
		t.Errorf("report = %+v", report)
	}
	if f.fetcher.calls != 1 {
		t.Errorf("fetch calls = %d", f.fetcher.calls)
	}

	// The check timestamp is recorded for the skip window.
	if _, ok, err := f.store.GetCheck(ctx, sellerID); err != nil || !ok {
		t.Errorf("check timestamp missing: ok=%v err=%v", ok, err)
	}
}

func TestRunCycleHonorsSkipWindow(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, RunnerConfig{SellerDelay: time.Millisecond, SkipWindow: time.Hour})
	if err := f.users.AddSeller(ctx, 100, sellerID); err != nil {
		t.Fatal(err)
	}
	f.fetcher.products = []catalog.Product{product("B0C1XYZ001", "One")}
	if err := f.store.PutCheck(ctx, sellerID, time.Now()); err != nil {
		t.Fatal(err)
	}

	report, err := f.runner.RunCycle(ctx, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || f.fetcher.calls != 0 {
		t.Errorf("skipped=%d calls=%d", report.Skipped, f.fetcher.calls)
	}

	// A forced cycle ignores the window.
	report, err = f.runner.RunCycle(ctx, true, 42)
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 0 || f.fetcher.calls != 1 {
		t.Errorf("forced: skipped=%d calls=%d", report.Skipped, f.fetcher.calls)
	}
	if !report.Forced || report.RequestedBy != 42 {
		t.Errorf("report = %+v", report)
	}
}

func TestRunCycleNoTrackedSellers(t *testing.T) {
	f := newRunnerFixture(t, RunnerConfig{SellerDelay: time.Millisecond})
	report, err := f.runner.RunCycle(context.Background(), false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Sellers != 0 || f.fetcher.calls != 0 {
		t.Errorf("report = %+v, calls = %d", report, f.fetcher.calls)
	}
}

func TestCheckOne(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, RunnerConfig{SellerDelay: time.Millisecond, SkipWindow: time.Hour})
	if err := f.users.AddSeller(ctx, 100, sellerID); err != nil {
		t.Fatal(err)
	}
	f.fetcher.products = []catalog.Product{product("B0C1XYZ001", "One")}

	res, err := f.runner.CheckOne(ctx, sellerID, []int64{100}, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Baselined != 1 {
		t.Errorf("res = %+v", res)
	}

	// Inside the skip window an unforced re-check is a no-op.
	res, err = f.runner.CheckOne(ctx, sellerID, []int64{100}, false)
	if err != nil {
		t.Fatal(err)
	}
	if f.fetcher.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", f.fetcher.calls)
	}

	// Forced bypasses it.
	if _, err := f.runner.CheckOne(ctx, sellerID, []int64{100}, true); err != nil {
		t.Fatal(err)
	}
	if f.fetcher.calls != 2 {
		t.Errorf("fetch calls = %d, want 2", f.fetcher.calls)
	}
}

func TestCycleAggregation(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, RunnerConfig{SellerDelay: time.Millisecond})
	if err := f.users.AddSeller(ctx, 100, sellerID); err != nil {
		t.Fatal(err)
	}
	f.fetcher.products = []catalog.Product{product("B0C1XYZ001", "One"), product("B0C1XYZ002", "Two")}
	if _, err := f.runner.RunCycle(ctx, false, 0); err != nil {
		t.Fatal(err)
	}

	f.fetcher.products = append(f.fetcher.products, product("B0C1XYZ003", "Three"))
	report, err := f.runner.RunCycle(ctx, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Products != 3 || report.NewProducts != 1 || report.Notified != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Results) != 1 || report.Results[0].SellerID != sellerID {
		t.Errorf("results = %+v", report.Results)
	}
}
