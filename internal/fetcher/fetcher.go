// internal/fetcher/fetcher.go
package fetcher

import (
	"context"

	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
)

// Estimate is the fetcher's best-effort preview of a URL. Either field may
// be unknown; admission skips the matching limit check then.
type Estimate struct {
	SizeBytes       int64
	DurationSeconds int
	Title           string
}

// Result describes a finished fetch.
type Result struct {
	ActualBytes int64
	LocalPath   string
}

// MediaFetcher is the opaque download collaborator. The admission and queue
// engine never looks inside it: estimates feed the limit checks, fetch
// failures surface as MarkFailed, and that is the whole contract.
type MediaFetcher interface {
	Estimate(ctx context.Context, url string) (Estimate, error)
	Fetch(ctx context.Context, job *download.Job) (Result, error)
}

// UnknownEstimate is what a fetcher returns when probing failed but the
// download may still be attempted.
func UnknownEstimate() Estimate {
	return Estimate{SizeBytes: download.SizeUnknown, DurationSeconds: download.DurationUnknown}
}
