package model

import (
	"errors"
	"fmt"
)

// Error codes of the decision core.
const (
	ErrRegistryLoad        = "REGISTRY_LOAD_ERROR"
	ErrInputValidation     = "INPUT_VALIDATION_ERROR"
	ErrRuleEvaluation      = "RULE_EVALUATION_ERROR"
	ErrQualityGateFailure  = "QUALITY_GATE_FAILURE"
	ErrUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	ErrUpstreamSchema      = "UPSTREAM_SCHEMA_ERROR"
	ErrUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrMissingCostData     = "MISSING_COST_DATA"
	ErrPersistence         = "PERSISTENCE_ERROR"
)

// Error codes shared with the API surface.
const (
	ErrBadRequest          = "BAD_REQUEST"
	ErrNotFound            = "NOT_FOUND"
	ErrConflict            = "CONFLICT"
	ErrInvalidTransition   = "INVALID_TRANSITION"
	ErrCancelled           = "CANCELLED"
	ErrRunDeadlineExceeded = "RUN_DEADLINE_EXCEEDED"
	ErrInternalError       = "INTERNAL_ERROR"
)

// ErrorEnvelope is the error value used throughout the core and returned by
// the API. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ErrorEnvelope) Unwrap() error {
	return e.cause
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRegistryLoadError returns a REGISTRY_LOAD_ERROR carrying every problem
// found in the rule documents.
func NewRegistryLoadError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRegistryLoad,
		Message: fmt.Sprintf("rule registry rejected: %d problem(s)", len(details)),
		Details: details,
	}
}

// NewInputValidationError returns an INPUT_VALIDATION_ERROR with field-level
// details.
func NewInputValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInputValidation,
		Message: "workflow descriptor is invalid",
		Details: details,
	}
}

// NewRuleEvaluationError returns a RULE_EVALUATION_ERROR.
func NewRuleEvaluationError(ruleID string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRuleEvaluation,
		Message: fmt.Sprintf("rule %q failed to evaluate", ruleID),
		cause:   cause,
	}
}

// NewQualityGateFailure returns a QUALITY_GATE_FAILURE for the given stage.
func NewQualityGateFailure(stage StageKind, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrQualityGateFailure,
		Message: fmt.Sprintf("%s gate: %s", stage, msg),
	}
}

// NewUpstreamTimeoutError returns an UPSTREAM_TIMEOUT error.
func NewUpstreamTimeoutError(service string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUpstreamTimeout,
		Message: fmt.Sprintf("%s did not respond in time", service),
		cause:   cause,
	}
}

// NewUpstreamSchemaError returns an UPSTREAM_SCHEMA_ERROR.
func NewUpstreamSchemaError(service string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUpstreamSchema,
		Message: fmt.Sprintf("%s returned a response that does not match its schema", service),
		cause:   cause,
	}
}

// NewUpstreamUnavailableError returns an UPSTREAM_UNAVAILABLE error.
func NewUpstreamUnavailableError(service string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUpstreamUnavailable,
		Message: fmt.Sprintf("%s is temporarily unavailable", service),
		cause:   cause,
	}
}

// NewMissingCostDataError returns a MISSING_COST_DATA error naming the
// absent organisation field.
func NewMissingCostDataError(field string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrMissingCostData,
		Message: fmt.Sprintf("%s is required for ROI estimation", field),
		Details: []FieldError{{Field: field, Code: "REQUIRED", Message: "must be a positive amount"}},
	}
}

// NewPersistenceError returns a PERSISTENCE_ERROR.
func NewPersistenceError(op string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrPersistence,
		Message: fmt.Sprintf("run store %s failed", op),
		cause:   cause,
	}
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(from, to RunStatus) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("transition %s -> %s is not allowed", from, to),
	}
}

// NewCancelledError returns a CANCELLED error.
func NewCancelledError() *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrCancelled, Message: "run was cancelled"}
}

// NewRunDeadlineExceededError returns a RUN_DEADLINE_EXCEEDED error.
func NewRunDeadlineExceededError() *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrRunDeadlineExceeded, Message: "run exceeded its wall-clock ceiling"}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// ErrorCode returns the taxonomy code of err, or INTERNAL_ERROR when err does
// not carry one.
func ErrorCode(err error) string {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ErrInternalError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var env *ErrorEnvelope
	return errors.As(err, &env) && env.Code == code
}

// Retryable reports whether err may succeed when the same stage input is
// replayed.
func Retryable(err error) bool {
	switch ErrorCode(err) {
	case ErrQualityGateFailure, ErrUpstreamTimeout, ErrUpstreamSchema,
		ErrUpstreamUnavailable, ErrPersistence:
		return true
	default:
		return false
	}
}
