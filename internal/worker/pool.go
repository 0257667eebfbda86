// internal/worker/pool.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
	"github.com/D-7J/beast-downloader-bot/internal/fetcher"
	"github.com/D-7J/beast-downloader-bot/internal/lifecycle"
	xerrors "github.com/D-7J/beast-downloader-bot/internal/pkg/errors"
	"github.com/D-7J/beast-downloader-bot/internal/queue"
	"github.com/D-7J/beast-downloader-bot/internal/store"

	"go.uber.org/zap"
)

// Pool runs the download workers. Each worker polls the priority queue,
// marks the job running, invokes the fetcher outside any engine lock, and
// reports the terminal state back to the lifecycle. Cooperative cancellation
// works by cancelling the per-job fetch context when the lifecycle records a
// cancel request.
type Pool struct {
	queue  *queue.PriorityQueue
	jobs   store.Jobs
	life   *lifecycle.Service
	fetch  fetcher.MediaFetcher
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg     sync.WaitGroup
	stopCh chan struct{}
}

func NewPool(
	q *queue.PriorityQueue,
	jobs store.Jobs,
	life *lifecycle.Service,
	fetch fetcher.MediaFetcher,
	config Config,
	logger *zap.Logger,
) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}

	p := &Pool{
		queue:   q,
		jobs:    jobs,
		life:    life,
		fetch:   fetch,
		config:  config,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}
	life.SetCancelNotifier(p.cancelJob)
	return p, nil
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i+1)
	}
	p.logger.Info("worker pool started", zap.Int("concurrency", p.config.Concurrency))
}

// Stop signals workers to exit and waits up to ShutdownTimeout.
func (p *Pool) Stop() {
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timeout exceeded")
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			for {
				job := p.queue.DequeueNext()
				if job == nil {
					break
				}
				p.process(ctx, id, job)
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID int, job *download.Job) {
	if err := p.life.MarkRunning(ctx, job.ID); err != nil {
		// Cancelled or failed between dequeue and here; nothing to run.
		if !errors.Is(err, xerrors.ErrAlreadyTerminal) {
			p.logger.Error("failed to mark job running", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	p.register(job.ID, cancel)
	defer p.unregister(job.ID)

	p.logger.Info("worker picked up job",
		zap.Int("worker", workerID),
		zap.String("job_id", job.ID),
		zap.Int64("user_id", job.UserID),
	)

	result, err := p.fetch.Fetch(jobCtx, job)
	if err != nil {
		switch {
		case p.cancelRequested(ctx, job.ID):
			if ackErr := p.life.AcknowledgeCancel(ctx, job.ID); ackErr != nil {
				p.logger.Error("failed to acknowledge cancel", zap.String("job_id", job.ID), zap.Error(ackErr))
			}
		case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			p.fail(ctx, job.ID, lifecycle.FailReasonTimeout)
		default:
			p.fail(ctx, job.ID, err.Error())
		}
		return
	}

	job.LocalPath = result.LocalPath
	if err := p.jobs.Update(ctx, job); err != nil {
		p.logger.Error("failed to record local path", zap.String("job_id", job.ID), zap.Error(err))
	}
	if err := p.life.MarkCompleted(ctx, job.ID, result.ActualBytes); err != nil {
		p.logger.Error("failed to mark job completed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (p *Pool) fail(ctx context.Context, jobID, reason string) {
	if err := p.life.MarkFailed(ctx, jobID, reason); err != nil &&
		!errors.Is(err, xerrors.ErrAlreadyTerminal) {
		p.logger.Error("failed to mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// cancelJob is the lifecycle's notifier hook: it cancels the fetch context
// of a running job so the worker can wind down and acknowledge.
func (p *Pool) cancelJob(jobID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[jobID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Pool) cancelRequested(ctx context.Context, jobID string) bool {
	job, err := p.jobs.Get(ctx, jobID)
	return err == nil && job.CancelRequested
}

func (p *Pool) register(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.cancels[jobID] = cancel
	p.mu.Unlock()
}

func (p *Pool) unregister(jobID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[jobID]
	delete(p.cancels, jobID)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}
