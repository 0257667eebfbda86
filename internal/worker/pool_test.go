package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/admission"
	"github.com/D-7J/beast-downloader-bot/internal/catalog"
	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
	"github.com/D-7J/beast-downloader-bot/internal/fetcher"
	"github.com/D-7J/beast-downloader-bot/internal/lifecycle"
	"github.com/D-7J/beast-downloader-bot/internal/queue"
	"github.com/D-7J/beast-downloader-bot/internal/store/memstore"
	"github.com/D-7J/beast-downloader-bot/internal/subscription"
	"github.com/D-7J/beast-downloader-bot/internal/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFetcher lets tests script fetch outcomes per URL.
type fakeFetcher struct {
	results map[string]fetcher.Result
	errs    map[string]error
	block   chan struct{} // when set, Fetch blocks until closed or ctx done
}

func (f *fakeFetcher) Estimate(_ context.Context, _ string) (fetcher.Estimate, error) {
	return fetcher.UnknownEstimate(), nil
}

func (f *fakeFetcher) Fetch(ctx context.Context, job *download.Job) (fetcher.Result, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return fetcher.Result{}, ctx.Err()
		}
	}
	if err, ok := f.errs[job.URL]; ok {
		return fetcher.Result{}, err
	}
	return f.results[job.URL], nil
}

type harness struct {
	controller *admission.Controller
	life       *lifecycle.Service
	jobs       *memstore.Jobs
	queue      *queue.PriorityQueue
	pool       *Pool
}

func newHarness(t *testing.T, fake *fakeFetcher) *harness {
	t.Helper()

	cat, err := catalog.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	tracker := usage.NewTracker(memstore.NewCounters(), logger)
	subs := subscription.NewService(memstore.NewSubscriptions(), logger)
	q := queue.New(cat, nil)
	jobs := memstore.NewJobs()
	controller := admission.NewController(subs, cat, tracker, q, jobs, fake, nil, logger)
	life := lifecycle.NewService(jobs, q, controller, tracker, nil, nil, logger)

	pool, err := NewPool(q, jobs, life, fake, Config{
		Concurrency:     2,
		PollInterval:    10 * time.Millisecond,
		JobTimeout:      time.Second,
		ShutdownTimeout: time.Second,
	}, logger)
	require.NoError(t, err)

	return &harness{controller: controller, life: life, jobs: jobs, queue: q, pool: pool}
}

func (h *harness) submit(t *testing.T, userID int64, url string) *download.Job {
	t.Helper()
	adm, err := h.controller.Submit(context.Background(), userID, download.Request{URL: url}, time.Now())
	require.NoError(t, err)
	require.True(t, adm.Granted)
	return adm.Job
}

func (h *harness) waitForState(t *testing.T, jobID string, want download.State) *download.Job {
	t.Helper()
	var got *download.Job
	require.Eventually(t, func() bool {
		job, err := h.jobs.Get(context.Background(), jobID)
		if err != nil {
			return false
		}
		got = job
		return job.State == want
	}, 3*time.Second, 10*time.Millisecond, "job never reached state %s", want)
	return got
}

func TestPool_CompletesJob(t *testing.T) {
	fake := &fakeFetcher{results: map[string]fetcher.Result{
		"https://example.com/ok": {ActualBytes: 4096, LocalPath: "/tmp/ok.mp4"},
	}}
	h := newHarness(t, fake)

	job := h.submit(t, 1, "https://example.com/ok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)
	defer h.pool.Stop()

	done := h.waitForState(t, job.ID, download.StateCompleted)
	assert.Equal(t, int64(4096), done.ActualBytes)
	assert.Equal(t, "/tmp/ok.mp4", done.LocalPath)
}

func TestPool_FailsJobOnFetchError(t *testing.T) {
	fake := &fakeFetcher{errs: map[string]error{
		"https://example.com/broken": errors.New("extraction failed"),
	}}
	h := newHarness(t, fake)

	job := h.submit(t, 1, "https://example.com/broken")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)
	defer h.pool.Stop()

	failed := h.waitForState(t, job.ID, download.StateFailed)
	assert.Equal(t, "extraction failed", failed.FailReason)
}

func TestPool_CooperativeCancelOfRunningJob(t *testing.T) {
	fake := &fakeFetcher{block: make(chan struct{})}
	h := newHarness(t, fake)

	job := h.submit(t, 1, "https://example.com/slow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)
	defer h.pool.Stop()

	h.waitForState(t, job.ID, download.StateRunning)

	// The cancel request cancels the fetch context; the worker acknowledges
	// and the job terminates as cancelled, not failed.
	require.NoError(t, h.life.Cancel(context.Background(), job.ID, 1))
	h.waitForState(t, job.ID, download.StateCancelled)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Concurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.PollInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.JobTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}
