// internal/admission/controller.go
package admission

import (
	"context"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/catalog"
	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"
	"github.com/D-7J/beast-downloader-bot/internal/fetcher"
	"github.com/D-7J/beast-downloader-bot/internal/metrics"
	"github.com/D-7J/beast-downloader-bot/internal/queue"
	"github.com/D-7J/beast-downloader-bot/internal/store"
	"github.com/D-7J/beast-downloader-bot/internal/subscription"
	"github.com/D-7J/beast-downloader-bot/internal/usage"

	"go.uber.org/zap"
)

// Controller decides whether a requested download may proceed now, at what
// priority, and owns the concurrency slot lifecycle. Checks run cheapest
// first and stop at the first failure; the limit checks (duration, size)
// come before any counter is touched, so a rejected oversized request never
// consumes quota.
type Controller struct {
	subs    *subscription.Service
	cat     *catalog.Catalog
	usage   *usage.Tracker
	queue   *queue.PriorityQueue
	jobs    store.Jobs
	probe   fetcher.MediaFetcher
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewController(
	subs *subscription.Service,
	cat *catalog.Catalog,
	tracker *usage.Tracker,
	q *queue.PriorityQueue,
	jobs store.Jobs,
	probe fetcher.MediaFetcher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		subs:    subs,
		cat:     cat,
		usage:   tracker,
		queue:   q,
		jobs:    jobs,
		probe:   probe,
		metrics: m,
		logger:  logger,
	}
}

// Evaluate runs the admission checks for a user and request at now.
//
// The concurrency slot is claimed with a single atomic increment-with-ceiling
// before the quota reservation, so two requests racing at max_concurrent-1
// cannot both pass. A quota denial after the slot was claimed releases the
// slot before returning; a concurrency denial consumes nothing.
//
// On a grant the slot is held and one quota unit is spent; both are paired
// with exactly one release/commit when the job reaches a terminal state.
func (c *Controller) Evaluate(ctx context.Context, userID int64, req download.Request, now time.Time) (*download.Admission, error) {
	// Opportunistic correction; effective-tier below is right either way.
	if _, err := c.subs.ExpireIfPast(ctx, userID, now); err != nil {
		return nil, err
	}

	tier, err := c.subs.EffectiveTier(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	limits, err := c.cat.Limits(tier)
	if err != nil {
		return nil, err
	}

	if req.DurationSeconds != download.DurationUnknown && req.DurationSeconds > 0 &&
		!limits.DurationUnlimited() && req.DurationSeconds > limits.MaxDurationSeconds {
		return c.deny(tier, &download.Denial{
			Reason:  download.DenyDurationExceeded,
			Current: int64(req.DurationSeconds),
			Limit:   int64(limits.MaxDurationSeconds),
		}), nil
	}

	if req.EstimatedSizeBytes != download.SizeUnknown && req.EstimatedSizeBytes > 0 &&
		req.EstimatedSizeBytes > limits.MaxFileSizeBytes {
		return c.deny(tier, &download.Denial{
			Reason:  download.DenyFileTooLarge,
			Current: req.EstimatedSizeBytes,
			Limit:   limits.MaxFileSizeBytes,
		}), nil
	}

	denial, err := c.usage.AcquireSlot(ctx, userID, limits)
	if err != nil {
		return nil, err
	}
	if denial != nil {
		return c.deny(tier, denial), nil
	}

	day := usage.DayKey(now)
	_, denial, err = c.usage.TryReserve(ctx, userID, limits, day)
	if err != nil {
		// Reservation state is unknown only if the store op failed cleanly;
		// the primitive applied nothing, so only the slot needs returning.
		if slotErr := c.usage.ReleaseSlot(ctx, userID); slotErr != nil {
			c.logger.Error("failed to release slot after reserve error",
				zap.Int64("user_id", userID), zap.Error(slotErr))
		}
		return nil, err
	}
	if denial != nil {
		if slotErr := c.usage.ReleaseSlot(ctx, userID); slotErr != nil {
			c.logger.Error("failed to release slot after quota denial",
				zap.Int64("user_id", userID), zap.Error(slotErr))
		}
		return c.deny(tier, denial), nil
	}

	c.count("granted", "")
	return &download.Admission{
		Granted:        true,
		Tier:           tier,
		PriorityWeight: limits.PriorityWeight,
	}, nil
}

// Submit evaluates the request and, on a grant, creates the job (tier frozen
// at admission), persists it and enqueues it.
func (c *Controller) Submit(ctx context.Context, userID int64, req download.Request, now time.Time) (*download.Admission, error) {
	req = c.probeUnknowns(ctx, req)
	adm, err := c.Evaluate(ctx, userID, req, now)
	if err != nil {
		return nil, err
	}
	if !adm.Granted {
		return adm, nil
	}

	job := download.NewJob(userID, req, adm.Tier, now)
	job.State = download.StateQueued
	if err := c.jobs.Create(ctx, job); err != nil {
		// Undo both sides of the admission; the request never became work.
		if rbErr := c.usage.Rollback(ctx, &usage.Reservation{UserID: userID, Day: usage.DayKey(now)}); rbErr != nil {
			c.logger.Error("failed to roll back reservation", zap.Error(rbErr))
		}
		if slotErr := c.usage.ReleaseSlot(ctx, userID); slotErr != nil {
			c.logger.Error("failed to release slot", zap.Error(slotErr))
		}
		return nil, err
	}
	c.queue.Enqueue(job)

	c.logger.Info("download admitted",
		zap.String("job_id", job.ID),
		zap.Int64("user_id", userID),
		zap.String("tier", string(adm.Tier)),
	)

	adm.Job = job
	return adm, nil
}

// probeUnknowns asks the fetcher for size and duration when the caller did
// not supply them, so the limit checks cannot be bypassed by omission. A
// probe failure leaves the fields unknown and admission skips those checks,
// same as for genuinely unprobeable media.
func (c *Controller) probeUnknowns(ctx context.Context, req download.Request) download.Request {
	if c.probe == nil {
		return req
	}
	if req.EstimatedSizeBytes > 0 && req.DurationSeconds > 0 {
		return req
	}

	est, err := c.probe.Estimate(ctx, req.URL)
	if err != nil {
		c.logger.Warn("media probe failed", zap.String("url", req.URL), zap.Error(err))
		return req
	}
	if req.EstimatedSizeBytes <= 0 && est.SizeBytes > 0 {
		req.EstimatedSizeBytes = est.SizeBytes
	}
	if req.DurationSeconds <= 0 && est.DurationSeconds > 0 {
		req.DurationSeconds = est.DurationSeconds
	}
	return req
}

// ReleaseSlot returns the user's concurrency slot. The lifecycle calls this
// exactly once per admitted job.
func (c *Controller) ReleaseSlot(ctx context.Context, userID int64) error {
	return c.usage.ReleaseSlot(ctx, userID)
}

func (c *Controller) deny(tier plan.Tier, d *download.Denial) *download.Admission {
	c.count("denied", string(d.Reason))
	return &download.Admission{Granted: false, Tier: tier, Denial: d}
}

func (c *Controller) count(result, reason string) {
	if c.metrics == nil {
		return
	}
	c.metrics.AdmissionsTotal.WithLabelValues(result, reason).Inc()
}
