// internal/domain/subscription/dto.go
package subscription

import (
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"
)

// PaymentConfirmation is delivered by the payment-confirmation flow once a
// gateway (or a manually verified card-to-card transfer) reports success.
// Payment authenticity is the gateway layer's problem, not ours.
type PaymentConfirmation struct {
	UserID    int64     `json:"user_id" binding:"required"`
	Tier      plan.Tier `json:"tier" binding:"required"`
	Days      int       `json:"days" binding:"required,min=1"`
	Reference string    `json:"reference,omitempty"`
}

// Duration returns the purchased period.
func (p PaymentConfirmation) Duration() time.Duration {
	return time.Duration(p.Days) * 24 * time.Hour
}

// Status is the user-facing view of a subscription.
type Status struct {
	UserID        int64      `json:"user_id"`
	Tier          plan.Tier  `json:"tier"`
	EffectiveTier plan.Tier  `json:"effective_tier"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Active        bool       `json:"active"`
}
