package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/admission"
	"github.com/D-7J/beast-downloader-bot/internal/catalog"
	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
	xerrors "github.com/D-7J/beast-downloader-bot/internal/pkg/errors"
	"github.com/D-7J/beast-downloader-bot/internal/queue"
	"github.com/D-7J/beast-downloader-bot/internal/store/memstore"
	"github.com/D-7J/beast-downloader-bot/internal/subscription"
	"github.com/D-7J/beast-downloader-bot/internal/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	life       *Service
	controller *admission.Controller
	tracker    *usage.Tracker
	queue      *queue.PriorityQueue
	jobs       *memstore.Jobs
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cat, err := catalog.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	tracker := usage.NewTracker(memstore.NewCounters(), logger)
	subs := subscription.NewService(memstore.NewSubscriptions(), logger)
	q := queue.New(cat, nil)
	jobs := memstore.NewJobs()
	controller := admission.NewController(subs, cat, tracker, q, jobs, nil, nil, logger)

	return &fixture{
		life:       NewService(jobs, q, controller, tracker, nil, nil, logger),
		controller: controller,
		tracker:    tracker,
		queue:      q,
		jobs:       jobs,
		now:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// submit admits one job for the free-tier user (one concurrency slot).
func (f *fixture) submit(t *testing.T, userID int64) *download.Job {
	t.Helper()
	adm, err := f.controller.Submit(context.Background(), userID, download.Request{
		URL:                "https://example.com/clip",
		EstimatedSizeBytes: 1024,
		DurationSeconds:    60,
	}, f.now)
	require.NoError(t, err)
	require.True(t, adm.Granted)
	return adm.Job
}

func (f *fixture) slots(t *testing.T, userID int64) int64 {
	t.Helper()
	n, err := f.tracker.ConcurrentNow(context.Background(), userID)
	require.NoError(t, err)
	return n
}

func TestMarkCompleted_ReleasesSlotAndCommitsBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.submit(t, 1)
	require.Equal(t, int64(1), f.slots(t, 1))

	require.NoError(t, f.life.MarkRunning(ctx, job.ID))
	require.NoError(t, f.life.MarkCompleted(ctx, job.ID, 2048))

	assert.Zero(t, f.slots(t, 1))

	stored, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, download.StateCompleted, stored.State)
	assert.Equal(t, int64(2048), stored.ActualBytes)
	require.NotNil(t, stored.CompletedAt)

	u, err := f.tracker.Usage(ctx, 1, usage.DayKey(f.now))
	require.NoError(t, err)
	assert.Equal(t, int64(2048), u.BytesUsed)
}

func TestCancelAfterCompleted_IsAlreadyTerminal_SlotReleasedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.submit(t, 1)

	require.NoError(t, f.life.MarkRunning(ctx, job.ID))
	require.NoError(t, f.life.MarkCompleted(ctx, job.ID, 100))

	err := f.life.Cancel(ctx, job.ID, 1)
	assert.ErrorIs(t, err, xerrors.ErrAlreadyTerminal)

	// The slot was decremented exactly once: a second admission is possible
	// now, and only one.
	first := f.submit(t, 1)
	require.NotNil(t, first)

	adm, err := f.controller.Evaluate(ctx, 1, download.Request{URL: "https://example.com/x"}, f.now)
	require.NoError(t, err)
	require.False(t, adm.Granted)
	assert.Equal(t, download.DenyConcurrencyExceeded, adm.Denial.Reason)
}

func TestCancelQueued_RemovesFromQueueAndSettles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.submit(t, 1)

	require.NoError(t, f.life.Cancel(ctx, job.ID, 1))

	stored, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, download.StateCancelled, stored.State)
	assert.NotNil(t, stored.CompletedAt)
	assert.Zero(t, f.slots(t, 1))

	// The cancelled job is never yielded to a worker.
	assert.Nil(t, f.queue.DequeueNext())
}

// casObservingJobs runs a hook before every state transition.
type casObservingJobs struct {
	*memstore.Jobs
	beforeCAS func()
}

func (j *casObservingJobs) CASState(ctx context.Context, id string, from []download.State, to download.State) (bool, error) {
	if j.beforeCAS != nil {
		j.beforeCAS()
	}
	return j.Jobs.CASState(ctx, id, from, to)
}

func TestCancelQueued_LeavesLaneBeforeStateFlips(t *testing.T) {
	cat, err := catalog.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	tracker := usage.NewTracker(memstore.NewCounters(), logger)
	subs := subscription.NewService(memstore.NewSubscriptions(), logger)
	q := queue.New(cat, nil)
	jobs := &casObservingJobs{Jobs: memstore.NewJobs()}
	controller := admission.NewController(subs, cat, tracker, q, jobs, nil, nil, logger)
	life := NewService(jobs, q, controller, tracker, nil, nil, logger)

	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	adm, err := controller.Submit(ctx, 1, download.Request{URL: "https://example.com/clip"}, now)
	require.NoError(t, err)
	require.True(t, adm.Granted)
	jobID := adm.Job.ID

	// At no instant during the cancel transition may a worker still find the
	// job in its lane.
	jobs.beforeCAS = func() {
		assert.Zero(t, q.PositionOf(jobID), "job must leave the lane before its state changes")
	}
	require.NoError(t, life.Cancel(ctx, jobID, 1))

	stored, err := jobs.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, download.StateCancelled, stored.State)
}

func TestCancel_NotOwner(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, 1)

	err := f.life.Cancel(context.Background(), job.ID, 2)
	assert.ErrorIs(t, err, xerrors.ErrNotOwner)

	// Still queued, still holding its slot.
	assert.Equal(t, int64(1), f.slots(t, 1))
	assert.Equal(t, 1, f.queue.PositionOf(job.ID))
}

func TestCancelRunning_IsCooperative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.submit(t, 1)

	var notified string
	f.life.SetCancelNotifier(func(jobID string) { notified = jobID })

	require.NoError(t, f.life.MarkRunning(ctx, job.ID))
	require.NoError(t, f.life.Cancel(ctx, job.ID, 1))

	// Only recorded so far: the job stays running and keeps its slot until
	// the worker acknowledges.
	stored, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, download.StateRunning, stored.State)
	assert.True(t, stored.CancelRequested)
	assert.Equal(t, job.ID, notified)
	assert.Equal(t, int64(1), f.slots(t, 1))

	require.NoError(t, f.life.AcknowledgeCancel(ctx, job.ID))

	stored, err = f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, download.StateCancelled, stored.State)
	assert.Zero(t, f.slots(t, 1))
}

func TestMarkFailed_ReleasesSlotImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.submit(t, 1)

	require.NoError(t, f.life.MarkRunning(ctx, job.ID))
	require.NoError(t, f.life.MarkFailed(ctx, job.ID, "network error"))

	stored, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, download.StateFailed, stored.State)
	assert.Equal(t, "network error", stored.FailReason)
	assert.Zero(t, f.slots(t, 1), "a retry is a new admission, the slot frees now")
}

func TestMarkFailed_Timeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.submit(t, 1)

	require.NoError(t, f.life.MarkRunning(ctx, job.ID))
	require.NoError(t, f.life.MarkFailed(ctx, job.ID, FailReasonTimeout))

	stored, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, FailReasonTimeout, stored.FailReason)
}

func TestDoubleTerminal_OnlyFirstWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.submit(t, 1)

	require.NoError(t, f.life.MarkRunning(ctx, job.ID))
	require.NoError(t, f.life.MarkFailed(ctx, job.ID, "boom"))

	err := f.life.MarkCompleted(ctx, job.ID, 100)
	assert.ErrorIs(t, err, xerrors.ErrAlreadyTerminal)

	// Exactly one settle happened; the free user has their single slot back
	// and no more.
	assert.Zero(t, f.slots(t, 1))

	stored, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, download.StateFailed, stored.State)
}

func TestMarkRunning_RequiresQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.submit(t, 1)

	require.NoError(t, f.life.MarkRunning(ctx, job.ID))
	err := f.life.MarkRunning(ctx, job.ID)
	assert.Error(t, err)

	_, err = f.jobs.Get(ctx, "missing")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}
