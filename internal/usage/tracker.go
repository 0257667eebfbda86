// internal/usage/tracker.go
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"
	"github.com/D-7J/beast-downloader-bot/internal/store"

	"go.uber.org/zap"
)

// Counter keys are date-scoped, so a new day simply reads fresh keys and
// yesterday's expire on their own. That is the whole day-rollover story:
// no background reset job.
const (
	usageTTL = 48 * time.Hour

	// defaultSlotTTL is only a safety net against leaked slots (a crashed
	// worker that never settled). It must exceed the longest possible
	// download, or a slot frees mid-flight and the user can exceed
	// max_concurrent; deployments derive it from the job timeout via
	// SlotTTLFor.
	defaultSlotTTL = time.Hour
	slotTTLMargin  = 10 * time.Minute
)

// SlotTTLFor returns the concurrency-key expiry for a given job timeout.
func SlotTTLFor(jobTimeout time.Duration) time.Duration {
	ttl := jobTimeout + slotTTLMargin
	if ttl < defaultSlotTTL {
		return defaultSlotTTL
	}
	return ttl
}

// DayKey formats a wall-clock instant as the usage day bucket.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Reservation is one consumed daily quota unit. It is reversible via
// Rollback until the admission that took it fully completes.
type Reservation struct {
	UserID int64
	Day    string
}

// Tracker maintains per-user per-day download/byte counters and the live
// concurrency counter on top of the atomic counter store.
type Tracker struct {
	counters store.Counters
	slotTTL  time.Duration
	logger   *zap.Logger
}

func NewTracker(counters store.Counters, logger *zap.Logger) *Tracker {
	return &Tracker{counters: counters, slotTTL: defaultSlotTTL, logger: logger}
}

// SetSlotTTL overrides the concurrency-key expiry; see SlotTTLFor.
func (t *Tracker) SetSlotTTL(d time.Duration) {
	if d > 0 {
		t.slotTTL = d
	}
}

func downloadsKey(userID int64, day string) string {
	return fmt.Sprintf("usage:%d:%s:downloads", userID, day)
}

func bytesKey(userID int64, day string) string {
	return fmt.Sprintf("usage:%d:%s:bytes", userID, day)
}

func concurrentKey(userID int64) string {
	return fmt.Sprintf("concurrent:%d", userID)
}

// Usage returns the consumption snapshot for a user on the given day.
func (t *Tracker) Usage(ctx context.Context, userID int64, day string) (download.Usage, error) {
	downloads, err := t.counters.Get(ctx, downloadsKey(userID, day))
	if err != nil {
		return download.Usage{}, err
	}
	bytes, err := t.counters.Get(ctx, bytesKey(userID, day))
	if err != nil {
		return download.Usage{}, err
	}
	concurrent, err := t.counters.Get(ctx, concurrentKey(userID))
	if err != nil {
		return download.Usage{}, err
	}
	return download.Usage{
		UserID:        userID,
		Date:          day,
		DownloadsUsed: downloads,
		BytesUsed:     bytes,
		ConcurrentNow: concurrent,
	}, nil
}

// TryReserve atomically consumes one daily download unit if the tier's quota
// permits. Two callers racing at quota-1 cannot both succeed: the check and
// increment are a single store operation. On denial the returned Denial
// carries current/limit for user messaging.
func (t *Tracker) TryReserve(ctx context.Context, userID int64, limits plan.Limits, day string) (*Reservation, *download.Denial, error) {
	key := downloadsKey(userID, day)

	if limits.QuotaUnlimited() {
		if _, err := t.counters.Incr(ctx, key, 1, usageTTL); err != nil {
			return nil, nil, err
		}
		return &Reservation{UserID: userID, Day: day}, nil, nil
	}

	val, ok, err := t.counters.IncrWithCeiling(ctx, key, int64(limits.DailyQuota), usageTTL)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, &download.Denial{
			Reason:  download.DenyDailyQuotaExceeded,
			Current: val,
			Limit:   int64(limits.DailyQuota),
		}, nil
	}
	return &Reservation{UserID: userID, Day: day}, nil, nil
}

// Rollback returns a reserved quota unit that never turned into work.
// Never decrements below zero.
func (t *Tracker) Rollback(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	_, err := t.counters.DecrFloor(ctx, downloadsKey(res.UserID, res.Day))
	return err
}

// CommitBytes records bytes actually transferred for a finished job.
// Informational only; admission never gates on it.
func (t *Tracker) CommitBytes(ctx context.Context, userID int64, day string, byteCount int64) error {
	if byteCount <= 0 {
		return nil
	}
	if _, err := t.counters.Incr(ctx, bytesKey(userID, day), byteCount, usageTTL); err != nil {
		t.logger.Warn("failed to commit byte usage",
			zap.Int64("user_id", userID),
			zap.Int64("bytes", byteCount),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// AcquireSlot atomically claims a concurrency slot if the user is below the
// tier ceiling. Returns the denial carrying current/limit when full.
func (t *Tracker) AcquireSlot(ctx context.Context, userID int64, limits plan.Limits) (*download.Denial, error) {
	val, ok, err := t.counters.IncrWithCeiling(ctx, concurrentKey(userID), int64(limits.MaxConcurrent), t.slotTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &download.Denial{
			Reason:  download.DenyConcurrencyExceeded,
			Current: val,
			Limit:   int64(limits.MaxConcurrent),
		}, nil
	}
	return nil, nil
}

// ReleaseSlot frees one concurrency slot. Called exactly once per admitted
// job, on its terminal transition.
func (t *Tracker) ReleaseSlot(ctx context.Context, userID int64) error {
	_, err := t.counters.DecrFloor(ctx, concurrentKey(userID))
	return err
}

// ConcurrentNow reports the user's live slot count.
func (t *Tracker) ConcurrentNow(ctx context.Context, userID int64) (int64, error) {
	return t.counters.Get(ctx, concurrentKey(userID))
}
