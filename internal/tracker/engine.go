// Package tracker runs the check cycle: fetch a seller's inventory, reconcile
// it against each tracking user's seen-set and dispatch alerts for the delta.
package tracker

import (
	"context"
	"sort"

	"shelfwatch/internal/catalog"
	"shelfwatch/internal/inventory"
	"shelfwatch/internal/notify"
	"shelfwatch/internal/userdata"
	logx "shelfwatch/pkg/logx"
)

// Fetcher retrieves a seller's current products. *source.Chain implements it.
type Fetcher interface {
	FetchProducts(ctx context.Context, sellerID string, forceRefresh bool) ([]catalog.Product, string)
	SellerName(ctx context.Context, sellerID string) string
}

// Notifier delivers one alert. *notify.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, cycleID string, userID int64, sellerName string, p catalog.Product) notify.Result
}

// CheckResult summarizes one seller check within a cycle.
type CheckResult struct {
	SellerID      string
	Source        string // tag of the source that answered, "" if none
	ProductsFound int    // size of the fetched batch
	NewProducts   int    // products newly added to the inventory cache
	Baselined     int    // users whose baseline was captured this check
	Notified      int    // alerts settled (delivered or audited)
	Failed        int    // alerts that neither delivered nor audited
	Err           error
}

// Engine performs per-seller checks. It holds no cycle state; the Runner
// owns scheduling, pacing and skip windows.
type Engine struct {
	fetcher  Fetcher
	cache    *inventory.Cache
	users    *userdata.Store
	notifier Notifier
	log      logx.Logger
}

func NewEngine(fetcher Fetcher, cache *inventory.Cache, users *userdata.Store, notifier Notifier, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{fetcher: fetcher, cache: cache, users: users, notifier: notifier, log: log}
}

// CheckSeller runs the full flow for one seller on behalf of the users
// tracking it.
//
// An empty fetch (every source down or seller delisted everywhere) skips
// reconciliation entirely: baselining a user against a transient outage would
// flood them with the whole inventory once the source recovers.
func (e *Engine) CheckSeller(ctx context.Context, cycleID, sellerID string, userIDs []int64, forceRefresh bool) CheckResult {
	res := CheckResult{SellerID: sellerID}

	batch, tag := e.fetcher.FetchProducts(ctx, sellerID, forceRefresh)
	res.Source = tag
	res.ProductsFound = len(batch)
	if len(batch) == 0 {
		e.log.Warn("no products from any source, skipping reconciliation",
			logx.String("seller", sellerID))
		return res
	}

	// A persistence failure leaves the in-memory inventory correct; keep
	// reconciling on it and report the error in the summary.
	added, err := e.cache.Merge(ctx, sellerID, batch, tag)
	if err != nil {
		res.Err = err
		e.log.Error("inventory persist failed", logx.String("seller", sellerID), logx.Err(err))
	}
	res.NewProducts = added

	sellerName := e.cache.SellerName(ctx, sellerID)
	if sellerName == "" {
		if sellerName = e.fetcher.SellerName(ctx, sellerID); sellerName != "" {
			if err := e.cache.SetSellerName(ctx, sellerID, sellerName); err != nil {
				e.log.Warn("store seller name", logx.String("seller", sellerID), logx.Err(err))
			}
		}
	}

	products, err := e.cache.GetAll(ctx, sellerID)
	if err != nil {
		res.Err = err
		return res
	}
	allIDs := make([]string, 0, len(products))
	for _, p := range products {
		allIDs = append(allIDs, p.ID)
	}
	sort.Strings(allIDs)

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		e.reconcileUser(ctx, cycleID, userID, sellerID, sellerName, products, allIDs, &res)
	}

	e.log.Info("seller check finished",
		logx.String("seller", sellerID), logx.String("source", tag),
		logx.Int("products", res.ProductsFound), logx.Int("new", res.NewProducts),
		logx.Int("baselined", res.Baselined), logx.Int("notified", res.Notified),
		logx.Int("failed", res.Failed))
	return res
}

// reconcileUser handles one user. A failure here is isolated: it is logged
// and counted, never propagated, so one bad record cannot starve the rest.
func (e *Engine) reconcileUser(ctx context.Context, cycleID string, userID int64, sellerID, sellerName string, products []catalog.Product, allIDs []string, res *CheckResult) {
	baselined, err := e.users.IsBaselined(ctx, userID, sellerID)
	if err != nil {
		e.log.Warn("user reconcile skipped",
			logx.Int64("user", userID), logx.String("seller", sellerID), logx.Err(err))
		return
	}

	if !baselined {
		// First check after tracking started: seed the seen-set with the
		// entire current inventory. No alerts for baseline products.
		if err := e.users.Baseline(ctx, userID, sellerID, allIDs); err != nil {
			e.log.Error("baseline capture failed",
				logx.Int64("user", userID), logx.String("seller", sellerID), logx.Err(err))
			return
		}
		res.Baselined++
		e.log.Info("baseline captured",
			logx.Int64("user", userID), logx.String("seller", sellerID), logx.Int("products", len(allIDs)))
		return
	}

	var settled []string
	for _, p := range products {
		seen, err := e.users.HasSeen(ctx, userID, sellerID, p.ID)
		if err != nil || seen {
			continue
		}
		if !p.Notifiable() {
			// Quality gate failed. Leave it unseen so it is re-evaluated
			// once a later fetch fills in the missing fields.
			e.log.Debug("product held back by quality gate",
				logx.String("seller", sellerID), logx.String("product", p.ID))
			continue
		}

		r := e.notifier.Notify(ctx, cycleID, userID, sellerName, p)
		if r.Settled() {
			settled = append(settled, p.ID)
			res.Notified++
		} else {
			// Neither delivered nor audited: keep unseen and retry the
			// whole notification next cycle.
			res.Failed++
		}
	}

	if err := e.users.MarkSeen(ctx, userID, sellerID, settled...); err != nil {
		e.log.Error("mark seen failed",
			logx.Int64("user", userID), logx.String("seller", sellerID), logx.Err(err))
	}
}
