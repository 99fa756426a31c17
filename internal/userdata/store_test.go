package userdata

import (
	"context"
	"errors"
	"testing"

	"shelfwatch/internal/storage"
	logx "shelfwatch/pkg/logx"
)

func newTestStore(t *testing.T, resolver TierResolver) *Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewStore(st, resolver, logx.Nop())
}

func TestQuota(t *testing.T) {
	cases := []struct {
		tier     Tier
		override int
		want     int
	}{
		{TierBasic, 0, 1},
		{TierSilver, 0, 3},
		{TierGold, 0, 5},
		{TierUnlimited, 0, -1},
		{TierBasic, 10, 10}, // override wins
		{TierGold, 2, 2},    // override wins even when lower
	}
	for _, c := range cases {
		if got := Quota(c.tier, c.override); got != c.want {
			t.Errorf("Quota(%s, %d) = %d, want %d", c.tier, c.override, got, c.want)
		}
	}
}

func TestLazyCreateDefaultsToBasic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	rec, err := s.Get(ctx, 100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Tier != TierBasic {
		t.Errorf("tier = %q", rec.Tier)
	}
	if len(rec.Sellers) != 0 {
		t.Errorf("sellers = %v, want empty", rec.Sellers)
	}
}

func TestAddSellerQuotaEnforced(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil) // basic: quota 1

	if err := s.AddSeller(ctx, 100, "S1"); err != nil {
		t.Fatalf("first AddSeller: %v", err)
	}
	err := s.AddSeller(ctx, 100, "S2")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}

	// Rejection must not mutate tracked-seller state.
	tracked, err := s.TrackedSellers(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(tracked) != 1 || tracked[0] != "S1" {
		t.Errorf("tracked = %v, want [S1]", tracked)
	}
}

func TestOverrideRaisesQuota(t *testing.T) {
	ctx := context.Background()
	r := NewStaticResolver(map[string]string{"100": "basic"}, map[string]int{"100": 3})
	s := newTestStore(t, r)

	for _, seller := range []string{"S1", "S2", "S3"} {
		if err := s.AddSeller(ctx, 100, seller); err != nil {
			t.Fatalf("AddSeller(%s): %v", seller, err)
		}
	}
	if err := s.AddSeller(ctx, 100, "S4"); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("4th seller: err = %v", err)
	}
}

func TestUnlimitedTier(t *testing.T) {
	ctx := context.Background()
	r := NewStaticResolver(map[string]string{"100": "unlimited"}, nil)
	s := newTestStore(t, r)

	for _, seller := range []string{"S1", "S2", "S3", "S4", "S5", "S6", "S7"} {
		if err := s.AddSeller(ctx, 100, seller); err != nil {
			t.Fatalf("AddSeller(%s): %v", seller, err)
		}
	}
}

func TestAddSellerIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	if err := s.AddSeller(ctx, 100, "S1"); err != nil {
		t.Fatal(err)
	}
	// Re-adding the only tracked seller is fine even at quota.
	if err := s.AddSeller(ctx, 100, "S1"); err != nil {
		t.Errorf("re-add: %v", err)
	}
}

func TestSeenSetLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	if err := s.AddSeller(ctx, 100, "S1"); err != nil {
		t.Fatal(err)
	}

	// Fresh tracking: not baselined, nothing seen.
	if b, err := s.IsBaselined(ctx, 100, "S1"); err != nil || b {
		t.Fatalf("IsBaselined = %v, %v", b, err)
	}

	if err := s.Baseline(ctx, 100, "S1", []string{"P1", "P2"}); err != nil {
		t.Fatal(err)
	}
	if b, _ := s.IsBaselined(ctx, 100, "S1"); !b {
		t.Error("not baselined after Baseline")
	}
	if n, _ := s.SeenCount(ctx, 100, "S1"); n != 2 {
		t.Errorf("seen count = %d, want 2", n)
	}
	if seen, _ := s.HasSeen(ctx, 100, "S1", "P1"); !seen {
		t.Error("P1 not seen after baseline")
	}
	if seen, _ := s.HasSeen(ctx, 100, "S1", "P3"); seen {
		t.Error("P3 reported seen")
	}

	if err := s.MarkSeen(ctx, 100, "S1", "P3"); err != nil {
		t.Fatal(err)
	}
	if seen, _ := s.HasSeen(ctx, 100, "S1", "P3"); !seen {
		t.Error("P3 not seen after MarkSeen")
	}
}

func TestRemoveSellerDiscardsSeenSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	if err := s.AddSeller(ctx, 100, "S1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Baseline(ctx, 100, "S1", []string{"P1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveSeller(ctx, 100, "S1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.HasSeen(ctx, 100, "S1", "P1"); !errors.Is(err, ErrNotTracked) {
		t.Errorf("err = %v, want ErrNotTracked", err)
	}

	// Re-tracking starts from scratch (new baseline required).
	if err := s.AddSeller(ctx, 100, "S1"); err != nil {
		t.Fatal(err)
	}
	if b, _ := s.IsBaselined(ctx, 100, "S1"); b {
		t.Error("stale baseline survived remove+add")
	}
}

func TestResetSeen(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	if err := s.AddSeller(ctx, 100, "S1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Baseline(ctx, 100, "S1", []string{"P1", "P2"}); err != nil {
		t.Fatal(err)
	}
	if err := s.ResetSeen(ctx, 100, "S1"); err != nil {
		t.Fatal(err)
	}
	if b, _ := s.IsBaselined(ctx, 100, "S1"); b {
		t.Error("still baselined after reset")
	}
	if n, _ := s.SeenCount(ctx, 100, "S1"); n != 0 {
		t.Errorf("seen count = %d after reset", n)
	}
}

func TestAllTrackedSellers(t *testing.T) {
	ctx := context.Background()
	r := NewStaticResolver(map[string]string{"100": "gold", "200": "gold"}, nil)
	s := newTestStore(t, r)

	if err := s.AddSeller(ctx, 100, "S1"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSeller(ctx, 100, "S2"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSeller(ctx, 200, "S2"); err != nil {
		t.Fatal(err)
	}

	all, err := s.AllTrackedSellers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("sellers = %v", all)
	}
	if len(all["S2"]) != 2 {
		t.Errorf("S2 trackers = %v", all["S2"])
	}
	if len(all["S1"]) != 1 || all["S1"][0] != 100 {
		t.Errorf("S1 trackers = %v", all["S1"])
	}
}

func TestRecordPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(st, nil, logx.Nop())
	if err := s.AddSeller(ctx, 100, "S1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Baseline(ctx, 100, "S1", []string{"P1"}); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	st2, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	s2 := NewStore(st2, nil, logx.Nop())
	if seen, err := s2.HasSeen(ctx, 100, "S1", "P1"); err != nil || !seen {
		t.Errorf("after reopen: seen=%v err=%v", seen, err)
	}
}
