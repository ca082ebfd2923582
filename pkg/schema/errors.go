package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeStepFailed        = "STEP_FAILED"
	ErrCodeAggregateFailure  = "AGGREGATE_FAILURE"
	ErrCodeJoinFailed        = "JOIN_FAILED"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeActionUnavailable = "ACTION_UNAVAILABLE"
)

// FlowError is the structured error type for all engine operations.
type FlowError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	StepName string         `json:"step_name,omitempty"`
	Cause    error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.StepName != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepName, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *FlowError) WithStep(name string) *FlowError {
	e.StepName = name
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// AsFlowError coerces any error into a *FlowError, wrapping foreign errors
// under ErrCodeExecution. A nil error yields nil.
func AsFlowError(err error) *FlowError {
	if err == nil {
		return nil
	}
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr
	}
	return NewError(ErrCodeExecution, err.Error()).WithCause(err)
}
