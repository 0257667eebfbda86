// internal/payment/service.go
package payment

import (
	"context"
	"time"

	domain "github.com/D-7J/beast-downloader-bot/internal/domain/subscription"
	"github.com/D-7J/beast-downloader-bot/internal/subscription"

	"go.uber.org/zap"
)

// Service applies confirmed payments to subscriptions. Gateway wire
// protocols and payment authenticity live in the gateway layer; by the time
// a confirmation reaches here it is trusted.
type Service struct {
	subs   *subscription.Service
	logger *zap.Logger
}

func NewService(subs *subscription.Service, logger *zap.Logger) *Service {
	return &Service{subs: subs, logger: logger}
}

// Confirm applies a confirmed purchase: the tier is set and the expiry
// extends per the renewal rule in the subscription service.
func (s *Service) Confirm(ctx context.Context, conf domain.PaymentConfirmation, now time.Time) (*domain.Subscription, error) {
	sub, err := s.subs.ApplyPayment(ctx, conf.UserID, conf.Tier, conf.Duration(), now)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment confirmed",
		zap.Int64("user_id", conf.UserID),
		zap.String("tier", string(conf.Tier)),
		zap.Int("days", conf.Days),
		zap.String("reference", conf.Reference),
	)
	return sub, nil
}
