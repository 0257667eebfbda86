package payment

import (
	"context"
	"testing"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"
	domain "github.com/D-7J/beast-downloader-bot/internal/domain/subscription"
	"github.com/D-7J/beast-downloader-bot/internal/store/memstore"
	"github.com/D-7J/beast-downloader-bot/internal/subscription"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) *Service {
	t.Helper()
	subs := subscription.NewService(memstore.NewSubscriptions(), zap.NewNop())
	return NewService(subs, zap.NewNop())
}

func TestConfirm_ActivatesPaidTier(t *testing.T) {
	svc := newService(t)
	now := time.Now()

	sub, err := svc.Confirm(context.Background(), domain.PaymentConfirmation{
		UserID:    42,
		Tier:      plan.TierSilver,
		Days:      30,
		Reference: "card-7781",
	}, now)
	require.NoError(t, err)

	assert.Equal(t, plan.TierSilver, sub.Tier)
	require.NotNil(t, sub.ExpiresAt)
	assert.WithinDuration(t, now.Add(30*24*time.Hour), *sub.ExpiresAt, time.Second)
}

func TestConfirm_RejectsFreeTier(t *testing.T) {
	svc := newService(t)

	_, err := svc.Confirm(context.Background(), domain.PaymentConfirmation{
		UserID: 42,
		Tier:   plan.TierFree,
		Days:   30,
	}, time.Now())
	assert.Error(t, err)
}
