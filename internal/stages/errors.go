package stages

import (
	"errors"
	"fmt"
)

// PermanentError marks a failure that retrying cannot fix: bad input, zero
// audio files, insufficient disk. The orchestrator quarantines the source.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a permanent failure.
func Permanent(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// TransientError marks a failure the next automation cycle may clear:
// encoder pressure, unreachable mounts, flaky probes.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a transient failure.
func Transient(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsTransient reports whether err carries a transient classification.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
