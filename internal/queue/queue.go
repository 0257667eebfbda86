// internal/queue/queue.go
package queue

import (
	"sync"

	"github.com/D-7J/beast-downloader-bot/internal/catalog"
	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"
	"github.com/D-7J/beast-downloader-bot/internal/metrics"
)

// PriorityQueue holds pending jobs in one FIFO lane per tier and serves
// lanes in ascending priority weight (gold first). Strict priority means a
// sustained gold load can starve free-lane jobs; that matches the production
// bot's lane-per-priority redis design and is deliberate.
type PriorityQueue struct {
	mu      sync.Mutex
	lanes   map[plan.Tier][]*download.Job
	order   []plan.Tier // ascending priority weight
	metrics *metrics.Metrics
}

// New builds a queue with one lane per catalog tier. metrics may be nil.
func New(cat *catalog.Catalog, m *metrics.Metrics) *PriorityQueue {
	tiers := cat.TiersByPriority()
	order := make([]plan.Tier, len(tiers))
	lanes := make(map[plan.Tier][]*download.Job, len(tiers))
	for i, t := range tiers {
		order[i] = t.Tier
		lanes[t.Tier] = nil
	}
	return &PriorityQueue{lanes: lanes, order: order, metrics: m}
}

// Enqueue places a job into the lane for its tier at admission.
func (q *PriorityQueue) Enqueue(job *download.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tier := job.TierAtAdmission
	if _, ok := q.lanes[tier]; !ok {
		// Unknown lane should have been caught at admission; park in the
		// lowest-priority lane rather than drop the job.
		tier = q.order[len(q.order)-1]
	}
	q.lanes[tier] = append(q.lanes[tier], job)
	q.gauge(tier)
}

// DequeueNext pops the oldest job from the highest-priority non-empty lane.
// Returns nil when every lane is empty.
func (q *PriorityQueue) DequeueNext() *download.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, tier := range q.order {
		lane := q.lanes[tier]
		if len(lane) == 0 {
			continue
		}
		job := lane[0]
		q.lanes[tier] = lane[1:]
		q.gauge(tier)
		return job
	}
	return nil
}

// PositionOf returns the 1-based position of a queued job, counting every
// job in higher-priority lanes plus same-lane jobs ahead of it.
// Returns 0 when the job is not queued.
func (q *PriorityQueue) PositionOf(jobID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos := 0
	for _, tier := range q.order {
		for _, job := range q.lanes[tier] {
			pos++
			if job.ID == jobID {
				return pos
			}
		}
	}
	return 0
}

// Remove takes a job out of its lane, so a cancelled job can never be
// yielded to a worker. Reports whether the job was found.
func (q *PriorityQueue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, tier := range q.order {
		lane := q.lanes[tier]
		for i, job := range lane {
			if job.ID == jobID {
				q.lanes[tier] = append(lane[:i], lane[i+1:]...)
				q.gauge(tier)
				return true
			}
		}
	}
	return false
}

// Depths reports the number of pending jobs per lane.
func (q *PriorityQueue) Depths() map[plan.Tier]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	depths := make(map[plan.Tier]int, len(q.order))
	for _, tier := range q.order {
		depths[tier] = len(q.lanes[tier])
	}
	return depths
}

// Len is the total number of pending jobs.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}

func (q *PriorityQueue) gauge(tier plan.Tier) {
	if q.metrics == nil {
		return
	}
	q.metrics.QueueDepth.WithLabelValues(string(tier)).Set(float64(len(q.lanes[tier])))
}
