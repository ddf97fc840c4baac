package domain

import "errors"

var (
	// ErrValidation is returned when an upload has the wrong shape, type or size
	ErrValidation = errors.New("validation failed")

	// ErrFileTooLarge is returned together with ErrValidation when the size limit is exceeded
	ErrFileTooLarge = errors.New("file too large")

	// ErrIO is returned when staging or promotion cannot write to storage
	ErrIO = errors.New("storage io failure")

	// ErrEnqueue is returned when a job cannot be handed to the broker
	ErrEnqueue = errors.New("failed to enqueue job")

	// ErrTransformation is returned when the engine reports a failure
	ErrTransformation = errors.New("transformation failed")

	// ErrConsistency is returned when a job reported success but no completed record exists
	ErrConsistency = errors.New("job succeeded but no completed record exists")

	// ErrAlreadyExists is returned when a concurrent writer already handled the key
	ErrAlreadyExists = errors.New("record already exists")

	// ErrRecordNotFound is returned when no record matches a CacheKey
	ErrRecordNotFound = errors.New("record not found")

	// ErrJobNotFound is returned when a job handle is unknown or expired
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidPayload is returned when a broker message cannot be decoded
	ErrInvalidPayload = errors.New("invalid job payload")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
