package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the download worker pool.
type Config struct {
	// Concurrency is the number of worker goroutines pulling from the queue.
	Concurrency int

	// PollInterval is how often an idle worker checks the queue.
	PollInterval time.Duration

	// JobTimeout caps a single fetch. On expiry the fetch context is
	// cancelled and the job is failed with the timeout reason.
	JobTimeout time.Duration

	// ShutdownTimeout bounds the wait for in-flight fetches on Stop.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     3,
		PollInterval:    time.Second,
		JobTimeout:      15 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("job timeout must be positive, got %v", c.JobTimeout)
	}
	return nil
}
