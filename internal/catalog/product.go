// Package catalog defines the product model shared by sources, the inventory
// cache and the reconciliation engine.
package catalog

import (
	"sort"
	"strings"
	"time"
)

// Product is one marketplace listing observed for a seller.
//
// ID is the marketplace catalog identifier (Amazon: ASIN). It is stable
// across sources: two records with the same ID for the same seller and
// marketplace describe the same listing.
type Product struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Price       string `json:"price,omitempty"`    // display string, e.g. "£12.99"
	Currency    string `json:"currency,omitempty"` // ISO code when known
	SellerID    string `json:"seller_id"`
	Marketplace string `json:"marketplace"` // domain suffix, e.g. "co.uk"

	// Unavailable marks listings the source flagged as not purchasable.
	// They stay in the cache but are never notified.
	Unavailable bool `json:"unavailable,omitempty"`

	// Sources is the union of provenance tags of every adapter that
	// returned this listing ("api", "snapshot", "scrape").
	Sources []string `json:"sources,omitempty"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// ValidID reports whether id looks like a marketplace catalog ID.
// ASINs are exactly 10 ASCII letters/digits.
func ValidID(id string) bool {
	if len(id) != 10 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		default:
			return false
		}
	}
	return true
}

// Merge folds an update for the same listing into p.
//
// The most complete title and price win, provenance tags are unioned,
// first-seen is preserved and last-seen advances. Merge is idempotent:
// folding the same update twice yields the same record.
func (p *Product) Merge(upd Product) {
	if betterTitle(upd.Title, p.Title) {
		p.Title = upd.Title
	}
	if upd.Price != "" {
		p.Price = upd.Price
	}
	if upd.Currency != "" {
		p.Currency = upd.Currency
	}
	if upd.URL != "" {
		p.URL = upd.URL
	}
	// A source may re-flag availability in either direction.
	p.Unavailable = upd.Unavailable

	p.Sources = unionTags(p.Sources, upd.Sources)

	if !upd.FirstSeen.IsZero() && (p.FirstSeen.IsZero() || upd.FirstSeen.Before(p.FirstSeen)) {
		p.FirstSeen = upd.FirstSeen
	}
	if upd.LastSeen.After(p.LastSeen) {
		p.LastSeen = upd.LastSeen
	}
}

func betterTitle(candidate, current string) bool {
	c := strings.TrimSpace(candidate)
	if c == "" || c == unknownTitle {
		return false
	}
	cur := strings.TrimSpace(current)
	if cur == "" || cur == unknownTitle {
		return true
	}
	return len(c) > len(cur)
}

func unionTags(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

const unknownTitle = "Unknown Title"

// Notifiable applies the quality gates a listing must pass before it may be
// announced to a user:
//   - a non-empty distinguishing title (placeholder titles don't count)
//   - not flagged unavailable
//   - a URL that references the same marketplace and catalog ID
//
// Rejected listings are reconsidered on the next cycle; callers must not mark
// them seen.
func (p Product) Notifiable() bool {
	t := strings.TrimSpace(p.Title)
	if t == "" || t == unknownTitle {
		return false
	}
	if p.Unavailable {
		return false
	}
	if !ValidID(p.ID) {
		return false
	}
	if p.URL == "" {
		return false
	}
	if !strings.Contains(p.URL, "/dp/"+p.ID) {
		return false
	}
	if p.Marketplace != "" && !strings.Contains(p.URL, "amazon."+p.Marketplace) {
		return false
	}
	return true
}

// DetailURL builds the canonical listing URL for a marketplace and ID.
func DetailURL(marketplace, id string) string {
	if marketplace == "" {
		marketplace = "co.uk"
	}
	return "https://www.amazon." + marketplace + "/dp/" + id
}
