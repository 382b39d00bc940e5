package worker

import (
	"errors"

	"github.com/sakif/rideboard/internal/apperror"
)

// JobError is a processing failure plus the decision of what to do with the
// job. Retry leaves the job leased so it is redelivered when the lease
// expires; otherwise the job is completed and dropped.
type JobError struct {
	Err   error
	Retry bool
}

func (e *JobError) Error() string {
	if e.Retry {
		return "retryable: " + e.Err.Error()
	}
	return "permanent: " + e.Err.Error()
}

func (e *JobError) Unwrap() error { return e.Err }

// Retryable marks err as transient.
func Retryable(err error) *JobError { return &JobError{Err: err, Retry: true} }

// Permanent marks err as something a retry cannot fix.
func Permanent(err error) *JobError { return &JobError{Err: err, Retry: false} }

// classify decides for a lookup failure. A missing row will stay missing;
// anything else is assumed to be infrastructure and worth another try.
func classify(err error) *JobError {
	var je *JobError
	if errors.As(err, &je) {
		return je
	}
	if errors.Is(err, apperror.ErrNotFound) {
		return Permanent(err)
	}
	return Retryable(err)
}

// ShouldRetry reports whether err asks for the job to be redelivered.
// A nil error and errors that are not a JobError do not.
func ShouldRetry(err error) bool {
	var je *JobError
	return errors.As(err, &je) && je.Retry
}
