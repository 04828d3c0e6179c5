package acquire

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAdmitted is the cause recorded for targets that never started
	// because the run was cancelled or aborted first.
	ErrNotAdmitted = errors.New("acquire: target not admitted")

	// ErrCapabilityLost means the underlying collaborator (browser, HTTP
	// stack) can no longer be used. It stops admission for the whole run.
	ErrCapabilityLost = errors.New("acquire: capability lost")

	// ErrDuplicateRecord is returned when a target reports twice.
	ErrDuplicateRecord = errors.New("acquire: duplicate outcome")

	// ErrUnknownTarget is returned when a record names an index outside 1..N.
	ErrUnknownTarget = errors.New("acquire: unknown target index")
)

// TransportError is a network, timeout or status failure. Always retryable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExhaustedError is the terminal cause once every attempt has soft-failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// ConfigError reports an invalid option. It is raised before any target runs.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as non-retryable. The retrier stops at the first fatal
// error instead of backing off.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err (or anything it wraps) was marked with Fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}
