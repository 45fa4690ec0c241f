package job

import "errors"

var (
	// ErrNotFound is returned when a job cannot be found in the store.
	ErrNotFound = errors.New("job not found")

	// ErrForbidden is returned when the caller does not own the job.
	ErrForbidden = errors.New("job not owned by caller")

	// ErrConflict is returned when a conditional status update loses a
	// concurrent-write race. The loser stops; the winner's transition is
	// authoritative.
	ErrConflict = errors.New("job status conflict")

	// ErrInvalidInput is returned for bad or unsupported sources at
	// submission time. No job record is created.
	ErrInvalidInput = errors.New("invalid input")

	// ErrJobInFlight is returned when deletion is requested for a job that
	// is still processing.
	ErrJobInFlight = errors.New("job is still processing")
)

// TransientError marks a stage failure caused by an environment or service
// hiccup. Transient failures are eligible for one automatic retry of the
// whole pipeline.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether err is classified as retryable. Anything not
// explicitly marked transient is treated as permanent.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// PermanentError marks a stage failure that retrying cannot fix: unsupported
// content, decode failure, policy rejection.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err as non-retryable.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}
