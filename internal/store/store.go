// internal/store/store.go
package store

import (
	"context"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
	"github.com/D-7J/beast-downloader-bot/internal/domain/subscription"
)

// Counters is the atomic counter surface the quota and concurrency logic
// sits on. Every method is a single storage-side operation: a failure means
// nothing was applied, so callers may retry the whole enclosing operation.
// Implementations report transient backend failures via
// xerrors.ErrStoreUnavailable.
type Counters interface {
	// IncrWithCeiling atomically increments key by 1 if the current value is
	// below ceiling. Returns the resulting value and whether the increment
	// was applied. A ttl > 0 (re)arms expiry on the key.
	IncrWithCeiling(ctx context.Context, key string, ceiling int64, ttl time.Duration) (int64, bool, error)

	// Incr increments key by delta with no ceiling.
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// DecrFloor decrements key by 1, never below zero.
	DecrFloor(ctx context.Context, key string) (int64, error)

	// Get returns the current value, zero for a missing key.
	Get(ctx context.Context, key string) (int64, error)
}

// Subscriptions persists per-user plan records.
type Subscriptions interface {
	// Get returns xerrors.ErrNotFound for a user with no stored record.
	Get(ctx context.Context, userID int64) (*subscription.Subscription, error)
	// Put inserts or replaces the record.
	Put(ctx context.Context, sub *subscription.Subscription) error
	// ListExpired returns up to limit records whose paid tier lapsed before
	// now, for the maintenance sweep.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error)
}

// Jobs persists download job records. CASState is the primitive the
// lifecycle's exactly-once guarantees are built on.
type Jobs interface {
	Create(ctx context.Context, job *download.Job) error
	// Get returns xerrors.ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (*download.Job, error)
	// Update rewrites mutable fields (bytes, reason, path, cancel flag).
	Update(ctx context.Context, job *download.Job) error
	// CASState transitions id from one of the from states to to, returning
	// whether this call won the transition. Losing is not an error.
	CASState(ctx context.Context, id string, from []download.State, to download.State) (bool, error)
}
