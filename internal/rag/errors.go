package rag

import (
	"errors"
	"fmt"
)

// ErrCollectionNotFound is returned by vector stores when the addressed
// collection does not exist. It is never folded into an empty success.
var ErrCollectionNotFound = errors.New("collection does not exist")

// ValidationError reports bad caller input. No state changes when returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown run, or a query against a run that is not
// in a queryable state.
type NotFoundError struct {
	RunID  string
	Reason string
}

func (e *NotFoundError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("run %s not found", e.RunID)
	}
	return fmt.Sprintf("run %s: %s", e.RunID, e.Reason)
}

// ConflictError reports an operation that is not valid for the run's current
// state, e.g. deleting a run that is still executing.
type ConflictError struct {
	RunID  string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("run %s: %s", e.RunID, e.Reason)
}

// UpstreamError reports a collaborator capability failure at query time,
// naming the stage that failed.
type UpstreamError struct {
	Stage string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// FatalPipelineError is an unrecoverable indexing condition that forces the
// run into the failed status.
type FatalPipelineError struct {
	Reason string
	Err    error
}

func (e *FatalPipelineError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *FatalPipelineError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
