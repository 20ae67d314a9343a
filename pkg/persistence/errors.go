// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyExists indicates an execution with the same identifier already exists.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrScheduleNotFound indicates a schedule was not found by the given identifier.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrReportNotFound indicates a report was not found by the given identifier.
	ErrReportNotFound = errors.New("report not found")

	// ErrFTPServerNotFound indicates a remote-transfer target was not found.
	ErrFTPServerNotFound = errors.New("ftp server not found")

	// ErrEmailServerNotFound indicates an SMTP transport was not found.
	ErrEmailServerNotFound = errors.New("email server not found")

	// ErrEmailTemplateNotFound indicates an email template was not found.
	ErrEmailTemplateNotFound = errors.New("email template not found")

	// ErrDataSourceNotFound indicates a data source was not found.
	ErrDataSourceNotFound = errors.New("data source not found")

	// ErrUserNotFound indicates a user was not found by the given identifier.
	ErrUserNotFound = errors.New("user not found")

	// ErrOTPConsumed indicates the execution holds no validated, unused
	// one-time code; a concurrent request may have consumed it already.
	ErrOTPConsumed = errors.New("one-time code already consumed")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "ExecutionByID", "UpdateExecution")
	ExecutionID string // Execution ID if applicable
	Err         error  // Underlying error
	Message     string // Additional context message
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for execution %s: %s (%v)", e.Op, e.ExecutionID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for execution errors.
func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// ScheduleError wraps schedule-related errors with additional context.
type ScheduleError struct {
	Op         string // Operation being performed
	ScheduleID string // Schedule ID
	Err        error  // Underlying error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("%s operation failed for schedule %s: %v", e.Op, e.ScheduleID, e.Err)
}

func (e *ScheduleError) Unwrap() error {
	return e.Err
}

func (e *ScheduleError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsScheduleNotFound checks if an error indicates a schedule was not found.
func IsScheduleNotFound(err error) bool {
	return errors.Is(err, ErrScheduleNotFound)
}

// IsReportNotFound checks if an error indicates a report was not found.
func IsReportNotFound(err error) bool {
	return errors.Is(err, ErrReportNotFound)
}
