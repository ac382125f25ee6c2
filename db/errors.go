package db

import "fmt"

// ConfigurationError indicates the store could not be constructed or opened.
// It is fatal at startup and never retryable.
type ConfigurationError struct {
	Err    error
	Reason string
}

func NewConfigurationError(err error, reason string) *ConfigurationError {
	return &ConfigurationError{Err: err, Reason: reason}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Reason, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// OperationError indicates a transient store failure. Callers (or the
// delivery substrate) may retry the whole operation.
type OperationError struct {
	Err error
	Op  string
}

func NewOperationError(err error, op string) *OperationError {
	return &OperationError{Err: err, Op: op}
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation error (%s): %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// ConflictError indicates a plan already exists under the same id with a
// different payload. Not retryable; both digests are surfaced so the
// submitter can reconcile offline.
type ConflictError struct {
	PlanID         string
	StoredDigest   string
	IncomingDigest string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("plan %s already exists with different body (stored=%s incoming=%s)",
		e.PlanID, e.StoredDigest, e.IncomingDigest)
}
