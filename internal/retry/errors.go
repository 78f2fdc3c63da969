package retry

import "errors"

// ErrorKind labels an error at the point it is raised. The coordinator never
// guesses retryability from error types; handlers tag their failures.
type ErrorKind string

const (
	KindRetryable    ErrorKind = "retryable"
	KindNonRetryable ErrorKind = "non_retryable"
)

// ClassifiedError wraps an error with an explicit retryability tag.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Retryable tags err as a transient failure worth retrying, typically a
// read-after-write visibility gap.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: KindRetryable, Err: err}
}

// NonRetryable tags err as a permanent failure that must be dead-lettered
// immediately.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: KindNonRetryable, Err: err}
}

// IsRetryable reports whether err carries an explicit retryable tag.
// Untagged errors are not retryable.
func IsRetryable(err error) bool {
	return Classify(err) == KindRetryable
}

// Classify returns the explicit tag on err, or KindNonRetryable when the
// error was raised untagged.
func Classify(err error) ErrorKind {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindNonRetryable
}
