// Package inventory owns the per-seller product cache.
//
// The cache is the union of everything any source ever returned for a seller,
// deduplicated by product ID. Products are never dropped for looking stale;
// staleness is a presentation concern of the reconciliation layer. Each merge
// batch is persisted before returning so a crash cannot lose merged data.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"shelfwatch/internal/catalog"
	"shelfwatch/internal/storage"
	logx "shelfwatch/pkg/logx"
)

// schemaVersion is the canonical on-disk schema for seller inventories.
// There is exactly one format; older layouts are migrated at load time.
const schemaVersion = 1

// SellerInventory is the stored state for one seller.
type SellerInventory struct {
	SchemaVersion int                        `json:"schema_version"`
	SellerID      string                     `json:"seller_id"`
	SellerName    string                     `json:"seller_name,omitempty"`
	Products      map[string]catalog.Product `json:"products"`
	LastRefresh   time.Time                  `json:"last_refresh"`
}

type Cache struct {
	store storage.Store
	log   logx.Logger

	mu  sync.Mutex
	mem map[string]*SellerInventory
}

func New(store storage.Store, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{store: store, log: log, mem: map[string]*SellerInventory{}}
}

// Merge upserts a batch of products for a seller and persists the result.
//
// Merging is idempotent: the same batch twice yields the same stored content
// (modulo last-seen timestamps). Returns the number of product IDs that were
// new to the cache. A persistence failure is returned after the in-memory
// state has been updated; callers log it and continue.
func (c *Cache) Merge(ctx context.Context, sellerID string, products []catalog.Product, sourceTag string) (int, error) {
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	inv, err := c.loadLocked(ctx, sellerID)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, p := range products {
		if !catalog.ValidID(p.ID) {
			continue
		}
		upd := p
		upd.SellerID = sellerID
		if sourceTag != "" {
			upd.Sources = append(append([]string(nil), p.Sources...), sourceTag)
		}
		if upd.FirstSeen.IsZero() {
			upd.FirstSeen = now
		}
		if upd.LastSeen.IsZero() {
			upd.LastSeen = now
		}

		if cur, ok := inv.Products[p.ID]; ok {
			cur.Merge(upd)
			inv.Products[p.ID] = cur
		} else {
			upd.Sources = dedupTags(upd.Sources)
			inv.Products[p.ID] = upd
			added++
		}
	}
	if len(products) > 0 {
		inv.LastRefresh = now
	}

	if err := c.persistLocked(ctx, inv); err != nil {
		return added, fmt.Errorf("persist inventory %s: %w", sellerID, err)
	}
	return added, nil
}

// SetSellerName records the storefront display name (best-effort metadata).
func (c *Cache) SetSellerName(ctx context.Context, sellerID, name string) error {
	if name == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	inv, err := c.loadLocked(ctx, sellerID)
	if err != nil {
		return err
	}
	if inv.SellerName == name {
		return nil
	}
	inv.SellerName = name
	return c.persistLocked(ctx, inv)
}

// SellerName returns the cached display name, or "" if unknown.
func (c *Cache) SellerName(ctx context.Context, sellerID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	inv, err := c.loadLocked(ctx, sellerID)
	if err != nil {
		return ""
	}
	return inv.SellerName
}

// GetAll returns every product ever observed for the seller.
func (c *Cache) GetAll(ctx context.Context, sellerID string) ([]catalog.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inv, err := c.loadLocked(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Product, 0, len(inv.Products))
	for _, p := range inv.Products {
		out = append(out, p)
	}
	return out, nil
}

// Len reports the number of distinct products known for a seller.
func (c *Cache) Len(ctx context.Context, sellerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	inv, err := c.loadLocked(ctx, sellerID)
	if err != nil {
		return 0
	}
	return len(inv.Products)
}

// Reset discards everything known about a seller (administrative re-baseline).
func (c *Cache) Reset(ctx context.Context, sellerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.mem, sellerID)
	if err := c.store.DeleteInventory(ctx, sellerID); err != nil {
		return fmt.Errorf("reset inventory %s: %w", sellerID, err)
	}
	return nil
}

func (c *Cache) loadLocked(ctx context.Context, sellerID string) (*SellerInventory, error) {
	if inv, ok := c.mem[sellerID]; ok {
		return inv, nil
	}

	inv := &SellerInventory{
		SchemaVersion: schemaVersion,
		SellerID:      sellerID,
		Products:      map[string]catalog.Product{},
	}

	blob, ok, err := c.store.GetInventory(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("load inventory %s: %w", sellerID, err)
	}
	if ok {
		dec, migrated, err := decodeInventory(blob, sellerID)
		if err != nil {
			// Unreadable blob: start fresh rather than wedging the seller.
			c.log.Warn("discarding unreadable inventory blob", logx.String("seller", sellerID), logx.Err(err))
		} else {
			inv = dec
			if migrated {
				c.log.Info("migrated legacy inventory format", logx.String("seller", sellerID), logx.Int("products", len(inv.Products)))
				if err := c.persistLocked(ctx, inv); err != nil {
					c.log.Warn("persisting migrated inventory failed", logx.String("seller", sellerID), logx.Err(err))
				}
			}
		}
	}

	c.mem[sellerID] = inv
	return inv, nil
}

func (c *Cache) persistLocked(ctx context.Context, inv *SellerInventory) error {
	inv.SchemaVersion = schemaVersion
	blob, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return c.store.PutInventory(ctx, inv.SellerID, blob)
}

// decodeInventory parses a stored inventory blob.
//
// Two legacy layouts predate the versioned schema and are migrated once at
// load time: a bare JSON array of products, and a keyed object without the
// schema_version field.
func decodeInventory(blob []byte, sellerID string) (*SellerInventory, bool, error) {
	var inv SellerInventory
	if err := json.Unmarshal(blob, &inv); err == nil && inv.SchemaVersion == schemaVersion {
		if inv.Products == nil {
			inv.Products = map[string]catalog.Product{}
		}
		return &inv, false, nil
	}

	// Legacy: bare array of products.
	var arr []catalog.Product
	if err := json.Unmarshal(blob, &arr); err == nil {
		out := &SellerInventory{
			SchemaVersion: schemaVersion,
			SellerID:      sellerID,
			Products:      make(map[string]catalog.Product, len(arr)),
		}
		for _, p := range arr {
			if catalog.ValidID(p.ID) {
				out.Products[p.ID] = p
			}
		}
		return out, true, nil
	}

	// Legacy: keyed object without version.
	var keyed struct {
		SellerID   string                     `json:"seller_id"`
		SellerName string                     `json:"seller_name"`
		Products   map[string]catalog.Product `json:"products"`
	}
	if err := json.Unmarshal(blob, &keyed); err != nil {
		return nil, false, err
	}
	if keyed.Products == nil {
		return nil, false, fmt.Errorf("unrecognized inventory layout for %s", sellerID)
	}
	return &SellerInventory{
		SchemaVersion: schemaVersion,
		SellerID:      sellerID,
		SellerName:    keyed.SellerName,
		Products:      keyed.Products,
	}, true, nil
}

func dedupTags(tags []string) []string {
	seen := map[string]bool{}
	out := tags[:0]
	for _, t := range tags {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
