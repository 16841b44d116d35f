package pipeline

import (
	"errors"
	"fmt"
)

// ErrorType classifies step failures
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeDependency   ErrorType = "dependency"
	ErrorTypeExecution    ErrorType = "execution"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeCancellation ErrorType = "cancellation"
	ErrorTypeFatal        ErrorType = "fatal"
)

// StepError is a step failure with enough context to decide whether a
// retry makes sense
type StepError struct {
	Type      ErrorType `json:"type"`
	Step      string    `json:"step,omitempty"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Retryable bool      `json:"retryable"`
}

func (e *StepError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Type, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *StepError) Unwrap() error { return e.Cause }

// NewValidationError reports a failed precondition; never retried
func NewValidationError(step, message string) *StepError {
	return &StepError{Type: ErrorTypeValidation, Step: step, Message: message}
}

// NewDependencyError reports an unmet dependency; never retried
func NewDependencyError(step, dependsOn string) *StepError {
	return &StepError{
		Type:    ErrorTypeDependency,
		Step:    step,
		Message: fmt.Sprintf("dependency %s not completed", dependsOn),
	}
}

// NewExecutionError wraps a failure from inside Execute
func NewExecutionError(step string, cause error, retryable bool) *StepError {
	return &StepError{
		Type:      ErrorTypeExecution,
		Step:      step,
		Message:   "step execution failed",
		Cause:     cause,
		Retryable: retryable,
	}
}

// NewTimeoutError reports a step deadline hit; retried
func NewTimeoutError(step, timeout string) *StepError {
	return &StepError{
		Type:      ErrorTypeTimeout,
		Step:      step,
		Message:   fmt.Sprintf("step exceeded timeout of %s", timeout),
		Retryable: true,
	}
}

// NewCancellationError reports a cancelled run; never retried
func NewCancellationError(step string) *StepError {
	return &StepError{Type: ErrorTypeCancellation, Step: step, Message: "run was cancelled"}
}

// NewFatalError reports an unrecoverable framework failure
func NewFatalError(message string, cause error) *StepError {
	return &StepError{Type: ErrorTypeFatal, Message: message, Cause: cause}
}

// IsRetryable reports whether the manager may retry after this error
func IsRetryable(err error) bool {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Retryable
	}
	return false
}

// WrapError attaches step context to an arbitrary error
func WrapError(err error, step, message string) *StepError {
	if err == nil {
		return nil
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		if stepErr.Step == "" {
			stepErr.Step = step
		}
		if message != "" {
			stepErr.Message = fmt.Sprintf("%s: %s", message, stepErr.Message)
		}
		return stepErr
	}
	return &StepError{
		Type:    ErrorTypeExecution,
		Step:    step,
		Message: message,
		Cause:   err,
	}
}

// ErrRunNotFound is returned for lookups of unknown run IDs
var ErrRunNotFound = errors.New("run not found")
