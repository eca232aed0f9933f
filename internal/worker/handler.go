package worker

import (
	"context"
	"errors"
)

// JobHandler executes one job type. Handlers are registered with the
// worker before Start; a job whose type has no handler fails
// permanently.
type JobHandler interface {
	// Type returns the job type identifier this handler processes. It
	// must match the job_type column in the jobs table.
	Type() string

	// Handle executes the job. The payload is the raw JSON stored at
	// enqueue time. Return a PermanentError to skip retries.
	Handle(ctx context.Context, payload []byte) error
}

// PermanentError marks a failure that retrying cannot fix (malformed
// payload, unknown day key). The job is failed immediately instead of
// being rescheduled.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err as non-retryable.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or anything it wraps is a
// PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
