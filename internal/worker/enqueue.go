package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opositia/enforce/internal/repository"
)

// Job type constants - these must match the JobHandler.Type() values
const (
	JobTypeAggregateMetrics = "aggregate_metrics"
)

// Priority constants for job scheduling
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// AggregateMetricsPayload is the payload for experiment metric
// aggregation jobs. Day is a calendar day key (2006-01-02) in the
// engine's boundary timezone.
type AggregateMetricsPayload struct {
	Day string `json:"day"`
}

// EnqueueOption is a functional option for customizing job enqueue parameters.
type EnqueueOption func(*repository.EnqueueJobParams)

// WithPriority sets the job priority.
func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.Priority = priority
	}
}

// WithMaxAttempts sets the maximum number of retry attempts.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.MaxAttempts = attempts
	}
}

// WithDelay schedules the job to run after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.ScheduledAt = time.Now().Add(delay)
	}
}

// WithDedupeKey makes the enqueue idempotent: a second enqueue with the
// same key returns the existing job instead of inserting a duplicate.
func WithDedupeKey(key string) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.DedupeKey = key
	}
}

// EnqueueJob is a generic helper for enqueuing jobs with custom options.
func EnqueueJob(
	ctx context.Context,
	queries *repository.Queries,
	jobType string,
	payload interface{},
	opts ...EnqueueOption,
) (repository.Job, error) {
	// Marshal the payload to JSON
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	// Default parameters
	params := repository.EnqueueJobParams{
		JobType:     jobType,
		Payload:     payloadJSON,
		Priority:    PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now(),
	}

	// Apply options
	for _, opt := range opts {
		opt(&params)
	}

	// Enqueue the job
	job, err := queries.EnqueueJob(ctx, params)
	if err != nil {
		return repository.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	return job, nil
}

// EnqueueAggregateMetrics enqueues the daily experiment metric
// aggregation for the given day key. Deduplicated per day, so the
// scheduler can call it repeatedly without piling up jobs.
func EnqueueAggregateMetrics(
	ctx context.Context,
	queries *repository.Queries,
	day string,
	opts ...EnqueueOption,
) (repository.Job, error) {
	payload := AggregateMetricsPayload{Day: day}

	opts = append([]EnqueueOption{WithDedupeKey(JobTypeAggregateMetrics + ":" + day)}, opts...)
	return EnqueueJob(ctx, queries, JobTypeAggregateMetrics, payload, opts...)
}
