package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"
	"github.com/D-7J/beast-downloader-bot/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func freeLimits() plan.Limits {
	return plan.Limits{
		Tier:               plan.TierFree,
		DailyQuota:         5,
		MaxConcurrent:      1,
		MaxFileSizeBytes:   50 * 1024 * 1024,
		MaxDurationSeconds: 600,
		PriorityWeight:     4,
	}
}

func TestTryReserve_QuotaMonotonic(t *testing.T) {
	tr := NewTracker(memstore.NewCounters(), zap.NewNop())
	ctx := context.Background()
	limits := freeLimits()

	for i := 0; i < limits.DailyQuota; i++ {
		res, denial, err := tr.TryReserve(ctx, 1, limits, "2025-06-01")
		require.NoError(t, err)
		require.Nil(t, denial)
		require.NotNil(t, res)
	}

	u, err := tr.Usage(ctx, 1, "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(5), u.DownloadsUsed)

	// One more is denied and leaves the counter untouched.
	res, denial, err := tr.TryReserve(ctx, 1, limits, "2025-06-01")
	require.NoError(t, err)
	assert.Nil(t, res)
	require.NotNil(t, denial)
	assert.Equal(t, download.DenyDailyQuotaExceeded, denial.Reason)
	assert.Equal(t, int64(5), denial.Current)
	assert.Equal(t, int64(5), denial.Limit)

	u, err = tr.Usage(ctx, 1, "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(5), u.DownloadsUsed)
}

func TestTryReserve_ConcurrentCallersAtQuotaMinusOne(t *testing.T) {
	tr := NewTracker(memstore.NewCounters(), zap.NewNop())
	ctx := context.Background()
	limits := freeLimits()

	// Burn quota down to one remaining unit.
	for i := 0; i < limits.DailyQuota-1; i++ {
		_, denial, err := tr.TryReserve(ctx, 2, limits, "2025-06-01")
		require.NoError(t, err)
		require.Nil(t, denial)
	}

	var wg sync.WaitGroup
	granted := make(chan struct{}, 16)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, denial, err := tr.TryReserve(ctx, 2, limits, "2025-06-01")
			require.NoError(t, err)
			if res != nil && denial == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	assert.Len(t, granted, 1, "exactly one racer may take the last quota unit")
}

func TestTryReserve_UnlimitedQuota(t *testing.T) {
	tr := NewTracker(memstore.NewCounters(), zap.NewNop())
	ctx := context.Background()
	gold := plan.Limits{Tier: plan.TierGold, DailyQuota: plan.Unlimited, MaxConcurrent: 5}

	for i := 0; i < 500; i++ {
		res, denial, err := tr.TryReserve(ctx, 3, gold, "2025-06-01")
		require.NoError(t, err)
		require.Nil(t, denial)
		require.NotNil(t, res)
	}
}

func TestUsage_DayRollover(t *testing.T) {
	tr := NewTracker(memstore.NewCounters(), zap.NewNop())
	ctx := context.Background()
	limits := freeLimits()

	// Exhaust yesterday.
	for i := 0; i < limits.DailyQuota; i++ {
		_, denial, err := tr.TryReserve(ctx, 4, limits, "2025-05-31")
		require.NoError(t, err)
		require.Nil(t, denial)
	}

	// A new day reads fresh.
	u, err := tr.Usage(ctx, 4, "2025-06-01")
	require.NoError(t, err)
	assert.Zero(t, u.DownloadsUsed)

	res, denial, err := tr.TryReserve(ctx, 4, limits, "2025-06-01")
	require.NoError(t, err)
	assert.Nil(t, denial)
	assert.NotNil(t, res)
}

func TestRollback_NeverBelowZero(t *testing.T) {
	tr := NewTracker(memstore.NewCounters(), zap.NewNop())
	ctx := context.Background()

	res, denial, err := tr.TryReserve(ctx, 5, freeLimits(), "2025-06-01")
	require.NoError(t, err)
	require.Nil(t, denial)

	require.NoError(t, tr.Rollback(ctx, res))
	require.NoError(t, tr.Rollback(ctx, res)) // extra rollback is clamped

	u, err := tr.Usage(ctx, 5, "2025-06-01")
	require.NoError(t, err)
	assert.Zero(t, u.DownloadsUsed)
}

func TestAcquireSlot_Ceiling(t *testing.T) {
	tr := NewTracker(memstore.NewCounters(), zap.NewNop())
	ctx := context.Background()
	limits := freeLimits() // one slot

	denial, err := tr.AcquireSlot(ctx, 6, limits)
	require.NoError(t, err)
	assert.Nil(t, denial)

	denial, err = tr.AcquireSlot(ctx, 6, limits)
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Equal(t, download.DenyConcurrencyExceeded, denial.Reason)
	assert.Equal(t, int64(1), denial.Current)
	assert.Equal(t, int64(1), denial.Limit)

	require.NoError(t, tr.ReleaseSlot(ctx, 6))
	denial, err = tr.AcquireSlot(ctx, 6, limits)
	require.NoError(t, err)
	assert.Nil(t, denial)
}

func TestSlotTTLFor_OutlivesJobTimeout(t *testing.T) {
	// A slot that expires before the longest possible download would free
	// mid-flight and let the user exceed max_concurrent.
	assert.Greater(t, SlotTTLFor(2*time.Hour), 2*time.Hour)
	assert.Greater(t, SlotTTLFor(90*time.Minute), 90*time.Minute)

	// Short timeouts keep the safety-net floor.
	assert.Equal(t, time.Hour, SlotTTLFor(15*time.Minute))
	assert.Equal(t, time.Hour, SlotTTLFor(0))
}

func TestCommitBytes(t *testing.T) {
	tr := NewTracker(memstore.NewCounters(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tr.CommitBytes(ctx, 7, "2025-06-01", 1024))
	require.NoError(t, tr.CommitBytes(ctx, 7, "2025-06-01", 0)) // no-op
	require.NoError(t, tr.CommitBytes(ctx, 7, "2025-06-01", 4096))

	u, err := tr.Usage(ctx, 7, "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(5120), u.BytesUsed)
}
