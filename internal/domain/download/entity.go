// internal/domain/download/entity.go
package download

import (
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"

	"github.com/oklog/ulid/v2"
)

type State string

const (
	StatePending   State = "pending"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether a job in this state is finished for good.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// SizeUnknown marks a request whose size could not be estimated up front.
const SizeUnknown int64 = -1

// DurationUnknown marks a request whose media duration is not known.
const DurationUnknown = -1

// Job is one admitted download request. TierAtAdmission is frozen at enqueue
// time so a mid-flight plan change never reorders an already-queued job.
type Job struct {
	ID                 string    `json:"id" db:"id"`
	UserID             int64     `json:"user_id" db:"user_id"`
	URL                string    `json:"url" db:"url"`
	Format             string    `json:"format,omitempty" db:"format"`
	TierAtAdmission    plan.Tier `json:"tier_at_admission" db:"tier_at_admission"`
	RequestedAt        time.Time `json:"requested_at" db:"requested_at"`
	EstimatedSizeBytes int64     `json:"estimated_size_bytes" db:"estimated_size_bytes"`
	DurationSeconds    int       `json:"duration_seconds" db:"duration_seconds"`
	State              State     `json:"state" db:"state"`
	CancelRequested    bool      `json:"cancel_requested" db:"cancel_requested"`
	ActualBytes        int64     `json:"actual_bytes" db:"actual_bytes"`
	FailReason         string    `json:"fail_reason,omitempty" db:"fail_reason"`
	LocalPath          string    `json:"local_path,omitempty" db:"local_path"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// NewJob constructs a pending job with a fresh ULID.
func NewJob(userID int64, req Request, tier plan.Tier, now time.Time) *Job {
	return &Job{
		ID:                 ulid.Make().String(),
		UserID:             userID,
		URL:                req.URL,
		Format:             req.Format,
		TierAtAdmission:    tier,
		RequestedAt:        now,
		EstimatedSizeBytes: req.EstimatedSizeBytes,
		DurationSeconds:    req.DurationSeconds,
		State:              StatePending,
	}
}
