package userdata

import (
	"context"
	"strconv"
	"strings"
)

// Tier is a user's membership level. It grants a default tracking quota.
type Tier string

const (
	TierBasic     Tier = "basic"
	TierSilver    Tier = "silver"
	TierGold      Tier = "gold"
	TierUnlimited Tier = "unlimited"
)

// Limit returns the tier's default quota of concurrently tracked sellers.
// A negative value means unlimited.
func (t Tier) Limit() int {
	switch t {
	case TierSilver:
		return 3
	case TierGold:
		return 5
	case TierUnlimited:
		return -1
	default:
		return 1
	}
}

func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silver":
		return TierSilver
	case "gold":
		return TierGold
	case "unlimited":
		return TierUnlimited
	default:
		return TierBasic
	}
}

// TierResolver supplies the membership tier and optional quota override for a
// user. The chat platform's membership lookup implements this; the core never
// talks to the platform's member APIs directly.
type TierResolver interface {
	ResolveTier(ctx context.Context, userID int64) (tier Tier, quotaOverride int, err error)
}

// StaticResolver resolves tiers from configuration. Unknown users get Basic.
type StaticResolver struct {
	Tiers     map[int64]Tier
	Overrides map[int64]int
}

// NewStaticResolver builds a resolver from config maps keyed by the decimal
// user ID (config keys are strings in JSON/YAML).
func NewStaticResolver(tiers map[string]string, overrides map[string]int) *StaticResolver {
	r := &StaticResolver{Tiers: map[int64]Tier{}, Overrides: map[int64]int{}}
	for k, v := range tiers {
		if id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64); err == nil {
			r.Tiers[id] = ParseTier(v)
		}
	}
	for k, v := range overrides {
		if id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64); err == nil && v > 0 {
			r.Overrides[id] = v
		}
	}
	return r
}

func (r *StaticResolver) ResolveTier(ctx context.Context, userID int64) (Tier, int, error) {
	_ = ctx
	tier, ok := r.Tiers[userID]
	if !ok {
		tier = TierBasic
	}
	return tier, r.Overrides[userID], nil
}

// Quota computes the effective tracking quota: an explicit override wins over
// the tier default. Negative means unlimited.
func Quota(tier Tier, override int) int {
	if override > 0 {
		return override
	}
	return tier.Limit()
}
