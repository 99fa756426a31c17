package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"shelfwatch/internal/catalog"
	logx "shelfwatch/pkg/logx"
)

type fakeSource struct {
	name     string
	cached   bool
	products []catalog.Product
	err      error
	calls    int
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Cached() bool { return f.cached }

func (f *fakeSource) FetchProducts(ctx context.Context, sellerID string) ([]catalog.Product, error) {
	f.calls++
	return f.products, f.err
}

type fakeWriter struct {
	saved map[string][]catalog.Product
}

func (w *fakeWriter) Save(sellerID, sellerName string, products []catalog.Product) error {
	if w.saved == nil {
		w.saved = map[string][]catalog.Product{}
	}
	w.saved[sellerID] = products
	return nil
}

func one(id string) []catalog.Product {
	return []catalog.Product{{ID: id, Title: "Item " + id}}
}

func TestChainFirstNonEmptyWins(t *testing.T) {
	api := &fakeSource{name: "api", products: one("B0C1XYZ001")}
	snap := &fakeSource{name: "snapshot", cached: true, products: one("B0C1XYZ002")}
	c := NewChain([]Source{api, snap}, nil, time.Second, logx.Nop())

	got, tag := c.FetchProducts(context.Background(), "S1", false)
	if tag != "api" {
		t.Errorf("tag = %q, want api", tag)
	}
	if len(got) != 1 || got[0].ID != "B0C1XYZ001" {
		t.Errorf("products = %v", got)
	}
	if snap.calls != 0 {
		t.Error("lower-priority source was called after a hit")
	}
}

func TestChainFallsThroughEmptyAndErrors(t *testing.T) {
	api := &fakeSource{name: "api", err: errors.New("boom")}
	snap := &fakeSource{name: "snapshot", cached: true} // empty
	scrape := &fakeSource{name: "scrape", products: one("B0C1XYZ003")}
	c := NewChain([]Source{api, snap, scrape}, nil, time.Second, logx.Nop())

	got, tag := c.FetchProducts(context.Background(), "S1", false)
	if tag != "scrape" || len(got) != 1 {
		t.Errorf("tag=%q products=%v", tag, got)
	}
}

func TestChainAllEmpty(t *testing.T) {
	c := NewChain([]Source{
		&fakeSource{name: "api", err: errors.New("down")},
		&fakeSource{name: "snapshot", cached: true},
	}, nil, time.Second, logx.Nop())

	got, tag := c.FetchProducts(context.Background(), "S1", false)
	if got != nil || tag != "" {
		t.Errorf("got %v, %q; want empty", got, tag)
	}
}

func TestChainForceRefreshSkipsCached(t *testing.T) {
	snap := &fakeSource{name: "snapshot", cached: true, products: one("B0C1XYZ002")}
	scrape := &fakeSource{name: "scrape", products: one("B0C1XYZ003")}
	c := NewChain([]Source{snap, scrape}, nil, time.Second, logx.Nop())

	got, tag := c.FetchProducts(context.Background(), "S1", true)
	if tag != "scrape" {
		t.Errorf("tag = %q, want scrape", tag)
	}
	if snap.calls != 0 {
		t.Error("cached source called despite forced refresh")
	}
	if len(got) != 1 || got[0].ID != "B0C1XYZ003" {
		t.Errorf("products = %v", got)
	}
}

func TestChainWritebackOnLiveHit(t *testing.T) {
	w := &fakeWriter{}
	live := &fakeSource{name: "api", products: one("B0C1XYZ001")}
	c := NewChain([]Source{live}, w, time.Second, logx.Nop())

	c.FetchProducts(context.Background(), "S1", false)
	if len(w.saved["S1"]) != 1 {
		t.Errorf("writeback missing: %v", w.saved)
	}
}

func TestChainNoWritebackOnCachedHit(t *testing.T) {
	w := &fakeWriter{}
	snap := &fakeSource{name: "snapshot", cached: true, products: one("B0C1XYZ002")}
	c := NewChain([]Source{snap}, w, time.Second, logx.Nop())

	c.FetchProducts(context.Background(), "S1", false)
	if len(w.saved) != 0 {
		t.Errorf("cached hit must not be re-saved: %v", w.saved)
	}
}
