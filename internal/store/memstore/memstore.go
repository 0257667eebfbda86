// internal/store/memstore/memstore.go
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"
	"github.com/D-7J/beast-downloader-bot/internal/domain/subscription"
	xerrors "github.com/D-7J/beast-downloader-bot/internal/pkg/errors"
)

// Counters is a process-local implementation of store.Counters. It backs
// tests and single-node deployments; the redis implementation is the
// multi-process one.
type Counters struct {
	mu      sync.Mutex
	values  map[string]int64
	expires map[string]time.Time
	now     func() time.Time
}

func NewCounters() *Counters {
	return &Counters{
		values:  make(map[string]int64),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *Counters) get(key string) int64 {
	if exp, ok := c.expires[key]; ok && !exp.After(c.now()) {
		delete(c.values, key)
		delete(c.expires, key)
	}
	return c.values[key]
}

func (c *Counters) IncrWithCeiling(_ context.Context, key string, ceiling int64, ttl time.Duration) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.get(key)
	if cur >= ceiling {
		return cur, false, nil
	}
	cur++
	c.values[key] = cur
	if ttl > 0 {
		c.expires[key] = c.now().Add(ttl)
	}
	return cur, true, nil
}

func (c *Counters) Incr(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.get(key) + delta
	c.values[key] = cur
	if ttl > 0 {
		c.expires[key] = c.now().Add(ttl)
	}
	return cur, nil
}

func (c *Counters) DecrFloor(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.get(key)
	if cur <= 0 {
		return 0, nil
	}
	cur--
	if cur == 0 {
		delete(c.values, key)
	} else {
		c.values[key] = cur
	}
	return cur, nil
}

func (c *Counters) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key), nil
}

// Subscriptions is an in-memory store.Subscriptions.
type Subscriptions struct {
	mu   sync.RWMutex
	subs map[int64]subscription.Subscription
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{subs: make(map[int64]subscription.Subscription)}
}

func (s *Subscriptions) Get(_ context.Context, userID int64) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[userID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := sub
	return &cp, nil
}

func (s *Subscriptions) Put(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.UserID] = *sub
	return nil
}

func (s *Subscriptions) ListExpired(_ context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*subscription.Subscription
	for _, sub := range s.subs {
		if len(out) >= limit {
			break
		}
		if sub.Tier != plan.TierFree && sub.ExpiresAt != nil && !sub.ExpiresAt.After(now) {
			cp := sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Jobs is an in-memory store.Jobs.
type Jobs struct {
	mu   sync.Mutex
	jobs map[string]download.Job
}

func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]download.Job)}
}

func (j *Jobs) Create(_ context.Context, job *download.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs[job.ID] = *job
	return nil
}

func (j *Jobs) Get(_ context.Context, id string) (*download.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, ok := j.jobs[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := job
	return &cp, nil
}

// Update rewrites only the mutable fields, same as the SQL implementation;
// State belongs to CASState alone.
func (j *Jobs) Update(_ context.Context, job *download.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	cur, ok := j.jobs[job.ID]
	if !ok {
		return xerrors.ErrNotFound
	}
	cur.CancelRequested = job.CancelRequested
	cur.ActualBytes = job.ActualBytes
	cur.FailReason = job.FailReason
	cur.LocalPath = job.LocalPath
	cur.CompletedAt = job.CompletedAt
	j.jobs[job.ID] = cur
	return nil
}

func (j *Jobs) CASState(_ context.Context, id string, from []download.State, to download.State) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, ok := j.jobs[id]
	if !ok {
		return false, xerrors.ErrNotFound
	}
	for _, f := range from {
		if job.State == f {
			job.State = to
			j.jobs[id] = job
			return true, nil
		}
	}
	return false, nil
}
