package worker

import (
	"fmt"
	"time"
)

// Config holds the tunables for the background job worker. The metric
// aggregation workload is light, so the defaults run a small pool.
type Config struct {
	// Concurrency is the number of worker goroutines. Each polls for
	// and processes jobs independently. Default 2.
	Concurrency int

	// PollInterval is how often an idle worker checks for new jobs.
	// Default 5s.
	PollInterval time.Duration

	// JobTimeout bounds a single job run; on expiry the job's context
	// is canceled and the job is marked failed. Default 5m.
	JobTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for in-flight jobs before
	// giving up. Default 30s.
	ShutdownTimeout time.Duration

	// StaleJobThreshold is how old a 'running' job must be before
	// startup recovery requeues it (left behind by a crashed worker).
	// Default 10m.
	StaleJobThreshold time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       2,
		PollInterval:      5 * time.Second,
		JobTimeout:        5 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		StaleJobThreshold: 10 * time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Concurrency > 100 {
		return fmt.Errorf("concurrency too high (max 100), got %d", c.Concurrency)
	}
	if c.PollInterval < 1*time.Second {
		return fmt.Errorf("poll interval must be at least 1 second, got %v", c.PollInterval)
	}
	if c.JobTimeout < 1*time.Second {
		return fmt.Errorf("job timeout must be at least 1 second, got %v", c.JobTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	if c.StaleJobThreshold < 1*time.Minute {
		return fmt.Errorf("stale job threshold must be at least 1 minute, got %v", c.StaleJobThreshold)
	}
	return nil
}
