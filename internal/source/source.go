// Package source retrieves a seller's current product list.
//
// Retrieval strategies are unreliable individually (rate limits, blocks,
// cold caches); resilience comes from redundancy. Adapters are tried in a
// fixed priority order and the first non-empty result wins.
package source

import (
	"context"
	"time"

	"shelfwatch/internal/catalog"
	logx "shelfwatch/pkg/logx"
)

// Source is one retrieval strategy for a seller's product list.
//
// FetchProducts returns an empty slice for "no data" and an error only for
// transport-level failure. Implementations must honor ctx cancellation.
type Source interface {
	Name() string
	// Cached reports whether this source serves stored data only. Cached
	// sources are skipped when a forced refresh demands live retrieval.
	Cached() bool
	FetchProducts(ctx context.Context, sellerID string) ([]catalog.Product, error)
}

// SellerNamer is implemented by sources that can resolve a storefront's
// display name.
type SellerNamer interface {
	SellerName(ctx context.Context, sellerID string) (string, error)
}

// SnapshotWriter persists a successful live fetch so the snapshot source has
// something to serve next time the live sources are down.
type SnapshotWriter interface {
	Save(sellerID, sellerName string, products []catalog.Product) error
}

// Chain tries sources in priority order with early exit.
//
// No adapter failure escapes the chain: an erroring source degrades to "no
// products from this source", logged. The chain itself therefore never
// returns an error; a seller with no reachable source yields zero products
// for this cycle.
type Chain struct {
	sources []Source
	writer  SnapshotWriter
	log     logx.Logger

	// callTimeout bounds one adapter call for one seller.
	callTimeout time.Duration
}

func NewChain(sources []Source, writer SnapshotWriter, callTimeout time.Duration, log logx.Logger) *Chain {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{sources: sources, writer: writer, callTimeout: callTimeout, log: log}
}

// FetchProducts walks the chain. forceRefresh skips cached sources so a
// privileged re-check always hits live retrieval.
//
// Returns the products and the tag of the source that produced them
// ("" when every source came up empty).
func (c *Chain) FetchProducts(ctx context.Context, sellerID string, forceRefresh bool) ([]catalog.Product, string) {
	for _, src := range c.sources {
		if forceRefresh && src.Cached() {
			c.log.Debug("skipping cached source on forced refresh",
				logx.String("source", src.Name()), logx.String("seller", sellerID))
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
		products, err := src.FetchProducts(cctx, sellerID)
		cancel()
		if err != nil {
			c.log.Warn("source failed",
				logx.String("source", src.Name()), logx.String("seller", sellerID), logx.Err(err))
			continue
		}
		if len(products) == 0 {
			c.log.Debug("source returned no products",
				logx.String("source", src.Name()), logx.String("seller", sellerID))
			continue
		}

		c.log.Info("source produced products",
			logx.String("source", src.Name()), logx.String("seller", sellerID), logx.Int("count", len(products)))

		if c.writer != nil && !src.Cached() {
			if err := c.writer.Save(sellerID, "", products); err != nil {
				c.log.Warn("snapshot writeback failed", logx.String("seller", sellerID), logx.Err(err))
			}
		}
		return products, src.Name()
	}
	return nil, ""
}

// SellerName asks each source that can resolve names, in priority order.
func (c *Chain) SellerName(ctx context.Context, sellerID string) string {
	for _, src := range c.sources {
		n, ok := src.(SellerNamer)
		if !ok {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
		name, err := n.SellerName(cctx, sellerID)
		cancel()
		if err == nil && name != "" {
			return name
		}
	}
	return ""
}
