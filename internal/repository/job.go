package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one background job row.
type Job struct {
	ID           uuid.UUID
	JobType      string
	Payload      []byte
	Status       string
	Priority     int32
	Attempts     int32
	MaxAttempts  int32
	DedupeKey    sql.NullString
	ScheduledAt  time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
	ErrorMessage sql.NullString
	CreatedAt    time.Time
}

// EnqueueJobParams are the parameters for enqueuing a new job.
type EnqueueJobParams struct {
	JobType     string
	Payload     []byte
	Priority    int32
	MaxAttempts int32
	ScheduledAt time.Time
	DedupeKey   string
}

const jobColumns = `
id, job_type, payload, status, priority, attempts, max_attempts,
dedupe_key, scheduled_at, started_at, completed_at, error_message, created_at
`

const enqueueJob = `
INSERT INTO jobs (id, job_type, payload, status, priority, max_attempts, dedupe_key, scheduled_at, created_at)
VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, now())
ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING
`

const getJobByDedupeKey = `
SELECT ` + jobColumns + ` FROM jobs WHERE dedupe_key = $1
`

const getJobByID = `
SELECT ` + jobColumns + ` FROM jobs WHERE id = $1
`

func scanJob(row *sql.Row) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.JobType, &j.Payload, &j.Status, &j.Priority, &j.Attempts, &j.MaxAttempts,
		&j.DedupeKey, &j.ScheduledAt, &j.StartedAt, &j.CompletedAt, &j.ErrorMessage, &j.CreatedAt)
	return j, err
}

// EnqueueJob inserts a new pending job. When a dedupe key is given and a
// job with that key already exists, the existing job is returned instead
// of inserting a duplicate.
func (q *Queries) EnqueueJob(ctx context.Context, params EnqueueJobParams) (Job, error) {
	id := uuid.New()
	_, err := q.db.ExecContext(ctx, enqueueJob,
		id, params.JobType, params.Payload, params.Priority, params.MaxAttempts,
		nullString(params.DedupeKey), params.ScheduledAt)
	if err != nil {
		return Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	query, arg := getJobByID, interface{}(id)
	if params.DedupeKey != "" {
		query, arg = getJobByDedupeKey, interface{}(params.DedupeKey)
	}
	job, err := scanJob(q.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return Job{}, fmt.Errorf("read enqueued job: %w", err)
	}
	return job, nil
}

const dequeueJob = `
SELECT ` + jobColumns + ` FROM jobs
WHERE status = 'pending' AND scheduled_at <= now()
ORDER BY priority DESC, scheduled_at ASC
LIMIT 1
FOR UPDATE SKIP LOCKED
`

// DequeueJob locks and returns the next runnable job. Must be called
// inside a transaction; returns sql.ErrNoRows when the queue is empty.
func (q *Queries) DequeueJob(ctx context.Context) (Job, error) {
	return scanJob(q.db.QueryRowContext(ctx, dequeueJob))
}

const updateJobStarted = `
UPDATE jobs SET status = 'running', started_at = now(), attempts = attempts + 1
WHERE id = $1
`

// UpdateJobStarted marks a job as running and counts the attempt.
func (q *Queries) UpdateJobStarted(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, updateJobStarted, id); err != nil {
		return fmt.Errorf("update job started: %w", err)
	}
	return nil
}

const updateJobCompleted = `
UPDATE jobs SET status = 'completed', completed_at = now(), error_message = NULL
WHERE id = $1
`

// UpdateJobCompleted marks a job as successfully completed.
func (q *Queries) UpdateJobCompleted(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, updateJobCompleted, id); err != nil {
		return fmt.Errorf("update job completed: %w", err)
	}
	return nil
}

// UpdateJobFailedParams are the parameters for recording a job failure.
type UpdateJobFailedParams struct {
	ID           uuid.UUID
	ErrorMessage sql.NullString
	Permanent    bool
}

// Failed jobs retry with exponential backoff (30s, 60s, 120s, ...) until
// max_attempts, unless the failure is permanent.
const updateJobFailed = `
UPDATE jobs SET
	error_message = $2,
	status = CASE WHEN $3 OR attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
	completed_at = CASE WHEN $3 OR attempts >= max_attempts THEN now() ELSE NULL END,
	scheduled_at = CASE WHEN $3 OR attempts >= max_attempts THEN scheduled_at
		ELSE now() + make_interval(secs => 30 * power(2, attempts - 1)) END
WHERE id = $1
`

// UpdateJobFailed records a failure and either reschedules the job or
// marks it permanently failed.
func (q *Queries) UpdateJobFailed(ctx context.Context, params UpdateJobFailedParams) error {
	if _, err := q.db.ExecContext(ctx, updateJobFailed, params.ID, params.ErrorMessage, params.Permanent); err != nil {
		return fmt.Errorf("update job failed: %w", err)
	}
	return nil
}

const recoverStaleJobs = `
UPDATE jobs SET status = 'pending', started_at = NULL
WHERE status = 'running' AND started_at < now() - make_interval(secs => $1)
`

// RecoverStaleJobs resets jobs stuck in 'running' longer than the given
// threshold, typically left behind by a crashed worker. Returns the
// number of jobs recovered.
func (q *Queries) RecoverStaleJobs(ctx context.Context, thresholdSeconds float64) (int64, error) {
	res, err := q.db.ExecContext(ctx, recoverStaleJobs, thresholdSeconds)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return res.RowsAffected()
}
