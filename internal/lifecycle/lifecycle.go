// internal/lifecycle/lifecycle.go
package lifecycle

import (
	"context"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/admission"
	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
	"github.com/D-7J/beast-downloader-bot/internal/events"
	"github.com/D-7J/beast-downloader-bot/internal/metrics"
	xerrors "github.com/D-7J/beast-downloader-bot/internal/pkg/errors"
	"github.com/D-7J/beast-downloader-bot/internal/queue"
	"github.com/D-7J/beast-downloader-bot/internal/store"
	"github.com/D-7J/beast-downloader-bot/internal/usage"

	"go.uber.org/zap"
)

// FailReasonTimeout is used by the external worker-pool timeout mechanism.
const FailReasonTimeout = "timeout"

// Service owns job state transitions. Whichever terminal path a job takes
// (success, failure, explicit cancel, timeout), the concurrency slot release
// and the byte-usage commit happen exactly once: they ride on winning the
// store's CAS transition, and losing callers get nothing to do.
type Service struct {
	jobs       store.Jobs
	queue      *queue.PriorityQueue
	controller *admission.Controller
	usage      *usage.Tracker
	hub        *events.Hub
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// notifies the worker owning a running job that cancellation was
	// requested; set by the worker pool at startup.
	cancelNotify func(jobID string)
}

func NewService(
	jobs store.Jobs,
	q *queue.PriorityQueue,
	controller *admission.Controller,
	tracker *usage.Tracker,
	hub *events.Hub,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		jobs:       jobs,
		queue:      q,
		controller: controller,
		usage:      tracker,
		hub:        hub,
		metrics:    m,
		logger:     logger,
	}
}

// SetCancelNotifier installs the worker pool's hook for cooperative
// cancellation of running jobs.
func (s *Service) SetCancelNotifier(fn func(jobID string)) {
	s.cancelNotify = fn
}

// MarkRunning transitions a queued job to running, when a worker picks it up.
func (s *Service) MarkRunning(ctx context.Context, jobID string) error {
	won, err := s.jobs.CASState(ctx, jobID, []download.State{download.StateQueued}, download.StateRunning)
	if err != nil {
		return err
	}
	if !won {
		return s.terminalOrInvalid(ctx, jobID)
	}
	if s.metrics != nil {
		if job, err := s.jobs.Get(ctx, jobID); err == nil {
			s.metrics.QueueWaitTime.Observe(time.Since(job.RequestedAt).Seconds())
		}
	}
	s.publish(ctx, jobID, download.StateRunning, "", 0)
	return nil
}

// MarkCompleted finishes a job successfully and commits the bytes actually
// transferred.
func (s *Service) MarkCompleted(ctx context.Context, jobID string, actualBytes int64) error {
	won, err := s.jobs.CASState(ctx, jobID, []download.State{download.StateRunning}, download.StateCompleted)
	if err != nil {
		return err
	}
	if !won {
		return s.terminalOrInvalid(ctx, jobID)
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	now := time.Now()
	job.ActualBytes = actualBytes
	job.CompletedAt = &now
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error("failed to record completion details", zap.String("job_id", jobID), zap.Error(err))
	}

	s.settle(ctx, job, actualBytes)
	s.count("completed")
	s.publish(ctx, jobID, download.StateCompleted, "", actualBytes)
	return nil
}

// MarkFailed finishes a job on a fetch failure or timeout. The slot is
// released immediately; a retry is a new admission, never a resumption.
func (s *Service) MarkFailed(ctx context.Context, jobID, reason string) error {
	won, err := s.jobs.CASState(ctx, jobID,
		[]download.State{download.StateQueued, download.StateRunning}, download.StateFailed)
	if err != nil {
		return err
	}
	if !won {
		return s.terminalOrInvalid(ctx, jobID)
	}

	// A queued job that failed was never popped; keep the lanes clean.
	s.queue.Remove(jobID)

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	now := time.Now()
	job.FailReason = reason
	job.CompletedAt = &now
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error("failed to record failure details", zap.String("job_id", jobID), zap.Error(err))
	}

	s.settle(ctx, job, 0)
	s.count("failed")
	s.publish(ctx, jobID, download.StateFailed, reason, 0)
	s.logger.Warn("download failed",
		zap.String("job_id", jobID),
		zap.Int64("user_id", job.UserID),
		zap.String("reason", reason),
	)
	return nil
}

// Cancel handles a user's cancellation request. A queued job is removed from
// its lane and terminates immediately. A running job only records the
// request; the worker acknowledges via AcknowledgeCancel once it has stopped,
// and bookkeeping is released there. Cancelling someone else's job is
// ErrNotOwner; cancelling a finished one is ErrAlreadyTerminal.
func (s *Service) Cancel(ctx context.Context, jobID string, requesterID int64) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.UserID != requesterID {
		return xerrors.ErrNotOwner
	}
	if job.State.Terminal() {
		return xerrors.ErrAlreadyTerminal
	}

	// Queued path: leave the lane before the state flips, so a worker can
	// never pop a job that is about to be cancelled. The CAS still runs when
	// the job was already popped but not yet running; winning it makes the
	// worker's MarkRunning lose and skip the job.
	s.queue.Remove(jobID)
	won, err := s.jobs.CASState(ctx, jobID, []download.State{download.StateQueued}, download.StateCancelled)
	if err != nil {
		return err
	}
	if won {
		now := time.Now()
		job.CompletedAt = &now
		if err := s.jobs.Update(ctx, job); err != nil {
			s.logger.Error("failed to record cancel details", zap.String("job_id", jobID), zap.Error(err))
		}
		s.settle(ctx, job, 0)
		s.count("cancelled")
		s.publish(ctx, jobID, download.StateCancelled, "cancelled by user", 0)
		return nil
	}

	// Running path: cooperative. Record the request and poke the worker;
	// the slot stays held until the worker acknowledges.
	job, err = s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return xerrors.ErrAlreadyTerminal
	}
	job.CancelRequested = true
	if err := s.jobs.Update(ctx, job); err != nil {
		return err
	}
	if s.cancelNotify != nil {
		s.cancelNotify(jobID)
	}
	s.logger.Info("cancellation requested for running job",
		zap.String("job_id", jobID), zap.Int64("user_id", requesterID))
	return nil
}

// AcknowledgeCancel is called by the worker once it has stopped work on a
// cancelled running job. This is the terminal transition for that path.
func (s *Service) AcknowledgeCancel(ctx context.Context, jobID string) error {
	won, err := s.jobs.CASState(ctx, jobID, []download.State{download.StateRunning}, download.StateCancelled)
	if err != nil {
		return err
	}
	if !won {
		return s.terminalOrInvalid(ctx, jobID)
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	now := time.Now()
	job.CompletedAt = &now
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error("failed to record cancel details", zap.String("job_id", jobID), zap.Error(err))
	}

	s.settle(ctx, job, 0)
	s.count("cancelled")
	s.publish(ctx, jobID, download.StateCancelled, "cancelled by user", 0)
	return nil
}

// settle performs the once-per-job side effects after a won terminal CAS:
// slot release and byte commit (bytes may be zero on failure/cancel).
func (s *Service) settle(ctx context.Context, job *download.Job, bytes int64) {
	if err := s.controller.ReleaseSlot(ctx, job.UserID); err != nil {
		s.logger.Error("failed to release concurrency slot",
			zap.String("job_id", job.ID),
			zap.Int64("user_id", job.UserID),
			zap.Error(err),
		)
	}
	if err := s.usage.CommitBytes(ctx, job.UserID, usage.DayKey(job.RequestedAt), bytes); err != nil {
		s.logger.Error("failed to commit bytes",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}

// terminalOrInvalid maps a lost CAS to the right caller error.
func (s *Service) terminalOrInvalid(ctx context.Context, jobID string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return xerrors.ErrAlreadyTerminal
	}
	return xerrors.Wrap(xerrors.ErrInvalidInput, "job is in state "+string(job.State))
}

func (s *Service) publish(ctx context.Context, jobID string, state download.State, reason string, bytes int64) {
	if s.hub == nil {
		return
	}
	job, err := s.jobs.Get(ctx, jobID)
	userID := int64(0)
	if err == nil {
		userID = job.UserID
	}
	s.hub.Publish(events.JobEvent{
		JobID:  jobID,
		UserID: userID,
		State:  state,
		Reason: reason,
		Bytes:  bytes,
		At:     time.Now(),
	})
}

func (s *Service) count(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.JobsFinished.WithLabelValues(outcome).Inc()
}
