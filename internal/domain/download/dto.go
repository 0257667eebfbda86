// internal/domain/download/dto.go
package download

import (
	"github.com/D-7J/beast-downloader-bot/internal/domain/plan"
)

// Request carries the attributes of a download the user is asking for.
// Size and duration are best-effort estimates from the fetcher; either may
// be unknown (SizeUnknown / DurationUnknown), in which case the matching
// limit check is skipped.
type Request struct {
	URL                string `json:"url" binding:"required"`
	Format             string `json:"format,omitempty"`
	EstimatedSizeBytes int64  `json:"estimated_size_bytes"`
	DurationSeconds    int    `json:"duration_seconds"`
}

type DenyReason string

const (
	DenyDailyQuotaExceeded  DenyReason = "daily_quota_exceeded"
	DenyConcurrencyExceeded DenyReason = "concurrency_limit_exceeded"
	DenyFileTooLarge        DenyReason = "file_too_large"
	DenyDurationExceeded    DenyReason = "duration_limit_exceeded"
)

// Denial is an expected, user-facing refusal. It is a value, never an error:
// the presentation layer turns Current/Limit into user messaging.
type Denial struct {
	Reason  DenyReason `json:"reason"`
	Current int64      `json:"current"`
	Limit   int64      `json:"limit"`
}

// Admission is the outcome of evaluating a download request.
// Exactly one of Job / Denial is set when Granted is true / false.
type Admission struct {
	Granted        bool      `json:"granted"`
	Tier           plan.Tier `json:"tier"`
	PriorityWeight int       `json:"priority_weight,omitempty"`
	Job            *Job      `json:"job,omitempty"`
	Denial         *Denial   `json:"denial,omitempty"`
}

// Usage is the per-day consumption snapshot for a user.
type Usage struct {
	UserID         int64  `json:"user_id"`
	Date           string `json:"date"` // YYYY-MM-DD
	DownloadsUsed  int64  `json:"downloads_used"`
	BytesUsed      int64  `json:"bytes_used"`
	ConcurrentNow  int64  `json:"concurrent_now"`
}
