package stage

import (
	"errors"
	"fmt"
)

// TransientError wraps a failure that is worth retrying: timeouts, rate
// limits, transient network errors.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError wraps a failure that retrying cannot fix: invalid
// input, auth failure, schema violations.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err should trigger a retry.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is explicitly non-retryable.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// PersistenceError reports a cache or ledger write failure. It always
// fails the current attempt and must never be reinterpreted as a cache
// miss.
type PersistenceError struct {
	Op   string // "put", "rename", "load", ...
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConsistencyViolation records a broken ledger ordering invariant:
// a stage marked success while an earlier stage is not. Violations
// demote the offending entry instead of crashing the run.
type ConsistencyViolation struct {
	UnitID string
	Stage  Stage
	Reason string
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("consistency violation for unit %s at stage %s: %s", e.UnitID, e.Stage, e.Reason)
}
