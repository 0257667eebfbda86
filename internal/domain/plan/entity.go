// internal/domain/plan/entity.go
package plan

// Unlimited disables a numeric limit (daily quota, max duration).
const Unlimited = -1

type Tier string

const (
	TierFree   Tier = "free"
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// Limits is the immutable limit set attached to a subscription tier.
// Loaded once at startup and never mutated.
type Limits struct {
	Tier               Tier   `json:"tier"`
	Name               string `json:"name"`
	DailyQuota         int    `json:"daily_quota"`          // Unlimited = no daily cap
	MaxConcurrent      int    `json:"max_concurrent"`
	MaxFileSizeBytes   int64  `json:"max_file_size_bytes"`
	MaxDurationSeconds int    `json:"max_duration_seconds"` // Unlimited = no duration cap
	PriorityWeight     int    `json:"priority_weight"`      // lower is served first

	// Informational, used by the purchase flow
	PriceToman   int `json:"price_toman"`
	DurationDays int `json:"duration_days"`
}

// QuotaUnlimited reports whether the tier has no daily download cap.
func (l Limits) QuotaUnlimited() bool {
	return l.DailyQuota == Unlimited
}

// DurationUnlimited reports whether the tier has no per-file duration cap.
func (l Limits) DurationUnlimited() bool {
	return l.MaxDurationSeconds == Unlimited
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBronze, TierSilver, TierGold:
		return true
	}
	return false
}
