// internal/subscription/service.go
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"
	domain "github.com/D-7J/beast-downloader-bot/internal/domain/subscription"
	xerrors "github.com/D-7J/beast-downloader-bot/internal/pkg/errors"
	"github.com/D-7J/beast-downloader-bot/internal/store"

	"go.uber.org/zap"
)

// Service owns subscription reads, payment application and expiry handling.
type Service struct {
	subs   store.Subscriptions
	logger *zap.Logger
}

func NewService(subs store.Subscriptions, logger *zap.Logger) *Service {
	return &Service{subs: subs, logger: logger}
}

// Get returns the stored subscription, or the implicit free one for a user
// we have never seen.
func (s *Service) Get(ctx context.Context, userID int64, now time.Time) (*domain.Subscription, error) {
	sub, err := s.subs.Get(ctx, userID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return domain.Free(userID, now), nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// EffectiveTier derives the tier in force at now. Pure read; the stored
// record is not rewritten even when it has lapsed.
func (s *Service) EffectiveTier(ctx context.Context, userID int64, now time.Time) (plan.Tier, error) {
	sub, err := s.Get(ctx, userID, now)
	if err != nil {
		return "", err
	}
	tier := sub.EffectiveTier(now)
	if !tier.Valid() {
		return "", fmt.Errorf("%w: user %d has tier %q", xerrors.ErrUnknownTier, userID, tier)
	}
	return tier, nil
}

// ApplyPayment sets the purchased tier and computes the new expiry.
// A still-active subscription extends from its current expiry; an expired or
// fresh one starts from now. That one rule covers renewals, upgrades and
// first purchases.
func (s *Service) ApplyPayment(ctx context.Context, userID int64, tier plan.Tier, duration time.Duration, now time.Time) (*domain.Subscription, error) {
	if !tier.Valid() || tier == plan.TierFree {
		return nil, fmt.Errorf("%w: cannot purchase tier %q", xerrors.ErrInvalidInput, tier)
	}

	sub, err := s.Get(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	base := now
	if sub.Tier != plan.TierFree && sub.Active(now) && sub.ExpiresAt != nil && sub.ExpiresAt.After(now) {
		base = *sub.ExpiresAt
	}
	expires := base.Add(duration)

	sub.Tier = tier
	sub.ExpiresAt = &expires
	sub.UpdatedAt = now

	if err := s.subs.Put(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("payment applied",
		zap.Int64("user_id", userID),
		zap.String("tier", string(tier)),
		zap.Time("expires_at", expires),
	)
	return sub, nil
}

// ExpireIfPast idempotently rewrites a lapsed paid subscription back to
// free. Safe to call from any read path as well as the periodic sweep;
// returns whether a change was made.
func (s *Service) ExpireIfPast(ctx context.Context, userID int64, now time.Time) (bool, error) {
	sub, err := s.subs.Get(ctx, userID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if sub.Tier == plan.TierFree || sub.ExpiresAt == nil || sub.ExpiresAt.After(now) {
		return false, nil
	}

	sub.Tier = plan.TierFree
	sub.ExpiresAt = nil
	sub.UpdatedAt = now

	if err := s.subs.Put(ctx, sub); err != nil {
		return false, err
	}

	s.logger.Info("subscription expired, downgraded to free", zap.Int64("user_id", userID))
	return true, nil
}

// SweepExpired downgrades every lapsed paid subscription in one pass.
// Correctness never depends on this running; EffectiveTier already treats
// lapsed records as free.
func (s *Service) SweepExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	expired, err := s.subs.ListExpired(ctx, now, batch)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, sub := range expired {
		ok, err := s.ExpireIfPast(ctx, sub.UserID, now)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

// Status builds the user-facing subscription view.
func (s *Service) Status(ctx context.Context, userID int64, now time.Time) (*domain.Status, error) {
	sub, err := s.Get(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	return &domain.Status{
		UserID:        userID,
		Tier:          sub.Tier,
		EffectiveTier: sub.EffectiveTier(now),
		ExpiresAt:     sub.ExpiresAt,
		Active:        sub.Active(now),
	}, nil
}
