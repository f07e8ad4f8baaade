package sensor

import (
	"errors"
	"fmt"

	"github.com/henriblancke/dagster/internal/ir"
)

// ErrorCode categorizes sensor errors.
type ErrorCode string

const (
	// ErrCodeInvalidDefinition indicates a definition failed validation at
	// construction or registration.
	ErrCodeInvalidDefinition ErrorCode = "INVALID_DEFINITION"

	// ErrCodeInvalidInvocation indicates a direct call with the wrong
	// arguments.
	ErrCodeInvalidInvocation ErrorCode = "INVALID_INVOCATION"

	// ErrCodeEvaluation indicates the user reaction returned an error or
	// panicked.
	ErrCodeEvaluation ErrorCode = "EVALUATION_ERROR"

	// ErrCodeRunRequest indicates a reaction requested a job the sensor may
	// not target.
	ErrCodeRunRequest ErrorCode = "INVALID_RUN_REQUEST"
)

// InvalidDefinitionError reports a definition that cannot be registered.
type InvalidDefinitionError struct {
	Code    ErrorCode
	Sensor  string
	Field   string
	Message string
	Err     error
}

func (e *InvalidDefinitionError) Error() string {
	prefix := fmt.Sprintf("%s: sensor %q", e.Code, e.Sensor)
	if e.Field != "" {
		prefix += " field " + e.Field
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *InvalidDefinitionError) Unwrap() error { return e.Err }

func newDefinitionError(sensor, field, message string, err error) *InvalidDefinitionError {
	return &InvalidDefinitionError{
		Code:    ErrCodeInvalidDefinition,
		Sensor:  sensor,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// InvalidInvocationError reports a direct invocation with arguments that do
// not fit the reaction's shape.
type InvalidInvocationError struct {
	Code    ErrorCode
	Sensor  string
	Message string
}

func (e *InvalidInvocationError) Error() string {
	return fmt.Sprintf("%s: sensor %q: %s", e.Code, e.Sensor, e.Message)
}

func newInvocationError(sensor, format string, args ...any) *InvalidInvocationError {
	return &InvalidInvocationError{
		Code:    ErrCodeInvalidInvocation,
		Sensor:  sensor,
		Message: fmt.Sprintf(format, args...),
	}
}

// EvaluationError wraps a failure raised by user reaction code.
//
// Info is the serializable descriptor attached to the resulting RunReaction.
// Panicked is true when the reaction panicked instead of returning an error.
type EvaluationError struct {
	Code     ErrorCode
	Sensor   string
	Info     *ir.ErrorInfo
	Panicked bool
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("error occurred during the execution of sensor %q: %v", e.Sensor, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// RunRequestError reports a RunRequest that targets a job outside the
// sensor's request jobs.
type RunRequestError struct {
	Code    ErrorCode
	Sensor  string
	JobName string
	Message string
}

func (e *RunRequestError) Error() string {
	return fmt.Sprintf("%s: sensor %q: %s", e.Code, e.Sensor, e.Message)
}

// IsInvalidDefinition reports whether err is an *InvalidDefinitionError.
// Uses errors.As to handle wrapped errors.
func IsInvalidDefinition(err error) bool {
	var de *InvalidDefinitionError
	return errors.As(err, &de)
}

// IsInvalidInvocation reports whether err is an *InvalidInvocationError.
func IsInvalidInvocation(err error) bool {
	var ie *InvalidInvocationError
	return errors.As(err, &ie)
}

// IsEvaluationError reports whether err is an *EvaluationError.
func IsEvaluationError(err error) bool {
	var ee *EvaluationError
	return errors.As(err, &ee)
}

// IsRunRequestError reports whether err is a *RunRequestError.
func IsRunRequestError(err error) bool {
	var re *RunRequestError
	return errors.As(err, &re)
}
