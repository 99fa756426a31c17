// Package userdata owns user records: membership tier, tracked sellers and
// the per-seller seen-sets that drive notification dedup.
package userdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"shelfwatch/internal/storage"
	logx "shelfwatch/pkg/logx"
)

var (
	ErrQuotaExceeded = errors.New("tracking quota exceeded")
	ErrNotTracked    = errors.New("seller not tracked")
)

// SeenSet is the per-seller notification state for one user.
//
// Baselined distinguishes "tracking started but never checked" from
// "baselined with zero products": only after baseline capture do deltas
// produce notifications.
type SeenSet struct {
	Baselined bool            `json:"baselined"`
	IDs       map[string]bool `json:"ids"`
}

// Record is one user's stored state. Every tracked seller has a seen-set
// entry (possibly empty and un-baselined).
type Record struct {
	UserID        int64               `json:"user_id"`
	Tier          Tier                `json:"tier"`
	QuotaOverride int                 `json:"quota_override,omitempty"`
	Sellers       map[string]*SeenSet `json:"sellers"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Store manages user records with read-through caching and synchronous
// persistence after every meaningful mutation.
type Store struct {
	store    storage.Store
	resolver TierResolver
	log      logx.Logger

	mu  sync.Mutex
	mem map[int64]*Record
}

func NewStore(store storage.Store, resolver TierResolver, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{store: store, resolver: resolver, log: log, mem: map[int64]*Record{}}
}

// Get returns the user's record, creating it lazily on first interaction.
func (s *Store) Get(ctx context.Context, userID int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, userID)
}

func (s *Store) getLocked(ctx context.Context, userID int64) (*Record, error) {
	if rec, ok := s.mem[userID]; ok {
		return rec, nil
	}

	blob, ok, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	rec := &Record{
		UserID:    userID,
		Tier:      TierBasic,
		Sellers:   map[string]*SeenSet{},
		CreatedAt: time.Now().UTC(),
	}
	if ok {
		if err := json.Unmarshal(blob, rec); err != nil {
			return nil, fmt.Errorf("decode user %d: %w", userID, err)
		}
		if rec.Sellers == nil {
			rec.Sellers = map[string]*SeenSet{}
		}
		for _, ss := range rec.Sellers {
			if ss.IDs == nil {
				ss.IDs = map[string]bool{}
			}
		}
	} else {
		// New user: seed the tier from the resolver so quota checks and
		// /status show the right level immediately.
		if s.resolver != nil {
			if tier, override, err := s.resolver.ResolveTier(ctx, userID); err == nil {
				rec.Tier = tier
				rec.QuotaOverride = override
			}
		}
	}

	s.mem[userID] = rec
	return rec, nil
}

func (s *Store) persistLocked(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = time.Now().UTC()
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.store.PutUser(ctx, rec.UserID, blob); err != nil {
		return fmt.Errorf("persist user %d: %w", rec.UserID, err)
	}
	return nil
}

// AddSeller starts tracking a seller for a user, enforcing the quota.
// On ErrQuotaExceeded no state is mutated.
func (s *Store) AddSeller(ctx context.Context, userID int64, sellerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := rec.Sellers[sellerID]; ok {
		return nil // already tracked; idempotent
	}

	// Re-resolve at add time so a tier upgrade takes effect without restart.
	tier, override := rec.Tier, rec.QuotaOverride
	if s.resolver != nil {
		if t, o, err := s.resolver.ResolveTier(ctx, userID); err == nil {
			tier, override = t, o
			rec.Tier, rec.QuotaOverride = t, o
		}
	}

	quota := Quota(tier, override)
	if quota >= 0 && len(rec.Sellers) >= quota {
		return fmt.Errorf("%w: tracking %d of %d sellers", ErrQuotaExceeded, len(rec.Sellers), quota)
	}

	rec.Sellers[sellerID] = &SeenSet{IDs: map[string]bool{}}
	return s.persistLocked(ctx, rec)
}

// RemoveSeller stops tracking a seller and discards its seen-set.
func (s *Store) RemoveSeller(ctx context.Context, userID int64, sellerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := rec.Sellers[sellerID]; !ok {
		return ErrNotTracked
	}
	delete(rec.Sellers, sellerID)
	return s.persistLocked(ctx, rec)
}

// HasSeen reports whether a product was already notified to the user.
func (s *Store) HasSeen(ctx context.Context, userID int64, sellerID, productID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, userID)
	if err != nil {
		return false, err
	}
	ss, ok := rec.Sellers[sellerID]
	if !ok {
		return false, ErrNotTracked
	}
	return ss.IDs[productID], nil
}

// IsBaselined reports whether baseline capture already ran for (user, seller).
func (s *Store) IsBaselined(ctx context.Context, userID int64, sellerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, userID)
	if err != nil {
		return false, err
	}
	ss, ok := rec.Sellers[sellerID]
	if !ok {
		return false, ErrNotTracked
	}
	return ss.Baselined, nil
}

// Baseline seeds the seen-set with the seller's entire current inventory.
// No notifications are emitted for baseline products.
func (s *Store) Baseline(ctx context.Context, userID int64, sellerID string, productIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, userID)
	if err != nil {
		return err
	}
	ss, ok := rec.Sellers[sellerID]
	if !ok {
		return ErrNotTracked
	}
	for _, id := range productIDs {
		ss.IDs[id] = true
	}
	ss.Baselined = true
	return s.persistLocked(ctx, rec)
}

// MarkSeen adds product IDs to the seen-set and persists. Empty batches are
// a no-op so unchanged cycles don't rewrite the record.
func (s *Store) MarkSeen(ctx context.Context, userID int64, sellerID string, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, userID)
	if err != nil {
		return err
	}
	ss, ok := rec.Sellers[sellerID]
	if !ok {
		return ErrNotTracked
	}
	for _, id := range productIDs {
		ss.IDs[id] = true
	}
	return s.persistLocked(ctx, rec)
}

// SeenCount returns the seen-set size for (user, seller).
func (s *Store) SeenCount(ctx context.Context, userID int64, sellerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, userID)
	if err != nil {
		return 0, err
	}
	ss, ok := rec.Sellers[sellerID]
	if !ok {
		return 0, ErrNotTracked
	}
	return len(ss.IDs), nil
}

// ResetSeen discards the seen-set for (user, seller) but keeps tracking.
// The next check re-runs baseline capture (administrative operation).
func (s *Store) ResetSeen(ctx context.Context, userID int64, sellerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := rec.Sellers[sellerID]; !ok {
		return ErrNotTracked
	}
	rec.Sellers[sellerID] = &SeenSet{IDs: map[string]bool{}}
	return s.persistLocked(ctx, rec)
}

// TrackedSellers returns the user's tracked seller IDs, sorted.
func (s *Store) TrackedSellers(ctx context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rec.Sellers))
	for id := range rec.Sellers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// AllTrackedSellers returns the distinct sellers tracked by any user, with
// the user IDs tracking each. Sellers with zero trackers never appear, so
// they are never checked.
func (s *Store) AllTrackedSellers(ctx context.Context) (map[string][]int64, error) {
	ids, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Include cached-but-unpersisted users too.
	known := map[int64]bool{}
	for _, id := range ids {
		known[id] = true
	}
	for id := range s.mem {
		known[id] = true
	}

	out := map[string][]int64{}
	for id := range known {
		rec, err := s.getLocked(ctx, id)
		if err != nil {
			s.log.Warn("skipping unreadable user record", logx.Int64("user", id), logx.Err(err))
			continue
		}
		for sellerID := range rec.Sellers {
			out[sellerID] = append(out[sellerID], id)
		}
	}
	for _, users := range out {
		sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	}
	return out, nil
}
