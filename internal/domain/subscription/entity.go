// internal/domain/subscription/entity.go
package subscription

import (
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"
)

// Subscription is the per-user plan record. A user with no stored record is
// implicitly on the free tier; the record is created on first write.
type Subscription struct {
	UserID    int64      `json:"user_id" db:"user_id"`
	Tier      plan.Tier  `json:"tier" db:"tier"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"` // nil = non-expiring (free)
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// EffectiveTier derives the tier consumers must act on. A paid tier whose
// expiry has passed is logically free even before the sweep rewrites it, so
// callers read this, never Tier directly.
func (s *Subscription) EffectiveTier(now time.Time) plan.Tier {
	if s == nil {
		return plan.TierFree
	}
	if s.Tier != plan.TierFree && s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return plan.TierFree
	}
	return s.Tier
}

// Active reports whether the stored tier is still in force at now.
func (s *Subscription) Active(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.EffectiveTier(now) == s.Tier
}

// Free returns the implicit subscription for a user with no stored record.
func Free(userID int64, now time.Time) *Subscription {
	return &Subscription{
		UserID:    userID,
		Tier:      plan.TierFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
