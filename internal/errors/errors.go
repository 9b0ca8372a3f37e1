// Package errors defines structured error types for the staging pipeline.
//
// Every failure that stops a run is reported as a *StageError carrying an
// ErrorCode, so the command can pick an exit status and the report can record
// what went wrong without parsing messages.
package errors

import (
	stderrors "errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
)

// ErrorCode defines specific error types for a staging run.
type ErrorCode string

const (
	// ErrBuildFailed is returned when the front-end build exits non-zero or cannot start
	ErrBuildFailed ErrorCode = "BUILD_FAILED"
	// ErrMissingAssets is returned when manifest files are absent after the copy phase
	ErrMissingAssets ErrorCode = "MISSING_ASSETS"
	// ErrStagingFailed is returned when the staging directory cannot be reset or written
	ErrStagingFailed ErrorCode = "STAGING_FAILED"
	// ErrInvalidConfig is returned when the hook configuration is unusable
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrInternal is returned when an unexpected error occurs
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// StageError is a concrete error type with a code, optional details and an
// optional wrapped cause.
type StageError struct {
	code       ErrorCode
	message    string
	details    map[string]any
	missing    []string
	wrappedErr error
}

// New creates a new StageError with the given code and message.
func New(code ErrorCode, message string) *StageError {
	return &StageError{
		code:    code,
		message: message,
		details: make(map[string]any),
	}
}

// WithDetail adds a single detail to the error.
func (e *StageError) WithDetail(key string, value any) *StageError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *StageError) Wrap(err error) *StageError {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Code returns the error code.
func (e *StageError) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *StageError) Details() map[string]any {
	return e.details
}

// Missing returns the missing manifest entries for ErrMissingAssets, in
// manifest order.
func (e *StageError) Missing() []string {
	return slices.Clone(e.missing)
}

// Unwrap returns the wrapped error if any.
func (e *StageError) Unwrap() error {
	return e.wrappedErr
}

// ExitCode returns the process exit status matching the error.
//
// A failed build keeps the exit status of the build command so the enclosing
// build system sees the same failure it would have seen running it directly.
func (e *StageError) ExitCode() int {
	if e.code == ErrBuildFailed {
		var exitErr *exec.ExitError
		if stderrors.As(e.wrappedErr, &exitErr) {
			if c := exitErr.ExitCode(); c > 0 {
				return c
			}
		}
	}
	return 1
}

// CodeOf returns the ErrorCode of err, or "" when err is not a StageError.
func CodeOf(err error) ErrorCode {
	var se *StageError
	if stderrors.As(err, &se) {
		return se.code
	}
	return ""
}

// BuildFailed creates an error for a failed front-end build.
func BuildFailed(command string, err error) *StageError {
	return New(ErrBuildFailed, fmt.Sprintf("front-end build %q failed", command)).WithDetail("command", command).Wrap(err)
}

// MissingAssets creates the aggregated error raised after the copy phase.
func MissingAssets(dir string, names []string) *StageError {
	e := New(ErrMissingAssets, fmt.Sprintf("missing files in %s: %s", dir, strings.Join(names, ", ")))
	e.missing = slices.Clone(names)
	return e.WithDetail("dir", dir)
}

// StagingFailed creates an error for a filesystem failure in the staging directory.
func StagingFailed(message string, err error) *StageError {
	return New(ErrStagingFailed, message).Wrap(err)
}

// InvalidConfig creates an error for an unusable configuration.
func InvalidConfig(message string) *StageError {
	return New(ErrInvalidConfig, message)
}

// InvalidConfigWithError creates an INVALID_CONFIG error wrapping an underlying error.
func InvalidConfigWithError(message string, err error) *StageError {
	return InvalidConfig(message).Wrap(err)
}
