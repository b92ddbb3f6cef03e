// Package errors provides unified error handling for the orchestration engine.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Authentication errors (1xxx)
	ErrCodeUnauthorized ErrorCode = "AUTH_1001"
	ErrCodeInvalidToken ErrorCode = "AUTH_1002"
	ErrCodeTokenExpired ErrorCode = "AUTH_1003"

	// Authorization errors (2xxx)
	ErrCodeForbidden           ErrorCode = "AUTHZ_2001"
	ErrCodeTenantMismatch      ErrorCode = "AUTHZ_2002"
	ErrCodePlatformAdminOnly   ErrorCode = "AUTHZ_2003"
	ErrCodePermissionRequired  ErrorCode = "AUTHZ_2004"

	// Validation errors (3xxx)
	ErrCodeInvalidInput     ErrorCode = "VAL_3001"
	ErrCodeMissingParameter ErrorCode = "VAL_3002"
	ErrCodeInvalidFormat    ErrorCode = "VAL_3003"
	ErrCodeOutOfRange       ErrorCode = "VAL_3004"

	// Resource errors (4xxx)
	ErrCodeNotFound      ErrorCode = "RES_4001"
	ErrCodeAlreadyExists ErrorCode = "RES_4002"
	ErrCodeConflict      ErrorCode = "RES_4003"

	// Service errors (5xxx)
	ErrCodeInternal          ErrorCode = "SVC_5001"
	ErrCodeDatabaseError     ErrorCode = "SVC_5002"
	ErrCodeAgentError        ErrorCode = "SVC_5003"
	ErrCodeExternalAPI       ErrorCode = "SVC_5004"
	ErrCodeTimeout           ErrorCode = "SVC_5005"
	ErrCodeRateLimitExceeded ErrorCode = "SVC_5006"
	ErrCodeRetryExhausted    ErrorCode = "SVC_5007"

	// Workflow compilation errors (8xxx)
	ErrCodeCycleDetected      ErrorCode = "WF_8001"
	ErrCodeUnknownAgentKind   ErrorCode = "WF_8002"
	ErrCodeSchemaClosure      ErrorCode = "WF_8003"
	ErrCodeNonDeterministic   ErrorCode = "WF_8004"
	ErrCodeUnreachableNode    ErrorCode = "WF_8005"
	ErrCodeDanglingReference  ErrorCode = "WF_8006"
	ErrCodeMergeConflict      ErrorCode = "WF_8007"
)

// ServiceError represents a structured error with code, message, and HTTP status.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Authentication errors

func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(err error) *ServiceError {
	return Wrap(ErrCodeInvalidToken, "invalid authentication token", http.StatusUnauthorized, err)
}

func TokenExpired() *ServiceError {
	return New(ErrCodeTokenExpired, "authentication token has expired", http.StatusUnauthorized)
}

// Authorization errors

func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

func TenantMismatch(resource, id string) *ServiceError {
	return New(ErrCodeTenantMismatch, "resource does not belong to this tenant", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func PlatformAdminOnly() *ServiceError {
	return New(ErrCodePlatformAdminOnly, "platform admin role required", http.StatusForbidden)
}

func PermissionRequired(permission string) *ServiceError {
	return New(ErrCodePermissionRequired, "missing required permission", http.StatusForbidden).
		WithDetails("permission", permission)
}

// Validation errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFormat, "invalid format", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

// Resource errors

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(ErrCodeAlreadyExists, "resource already exists", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Service errors

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, "database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func AgentError(agentKind string, err error) *ServiceError {
	return Wrap(ErrCodeAgentError, "agent invocation failed", http.StatusBadGateway, err).
		WithDetails("agentKind", agentKind)
}

func ExternalAPIError(service string, err error) *ServiceError {
	return Wrap(ErrCodeExternalAPI, "external API call failed", http.StatusBadGateway, err).
		WithDetails("service", service)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func RetryExhausted(operation string, attempts int, err error) *ServiceError {
	return Wrap(ErrCodeRetryExhausted, "retry attempts exhausted", http.StatusBadGateway, err).
		WithDetails("operation", operation).
		WithDetails("attempts", attempts)
}

// Workflow compilation errors

func CycleDetected(nodeIDs []string) *ServiceError {
	return New(ErrCodeCycleDetected, "workflow graph contains a cycle", http.StatusBadRequest).
		WithDetails("nodes", nodeIDs)
}

func UnknownAgentKind(kind string) *ServiceError {
	return New(ErrCodeUnknownAgentKind, "unknown agent kind", http.StatusBadRequest).
		WithDetails("kind", kind)
}

func SchemaClosureViolation(field, nodeID string) *ServiceError {
	return New(ErrCodeSchemaClosure, "field referenced before it is ever produced", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("node", nodeID)
}

func NonDeterministicBranch(nodeID string) *ServiceError {
	return New(ErrCodeNonDeterministic, "branch condition is not statically determinable", http.StatusBadRequest).
		WithDetails("node", nodeID)
}

func UnreachableNode(nodeID string) *ServiceError {
	return New(ErrCodeUnreachableNode, "node is unreachable from the start node", http.StatusBadRequest).
		WithDetails("node", nodeID)
}

func DanglingReference(nodeID, refersTo string) *ServiceError {
	return New(ErrCodeDanglingReference, "edge refers to a node that does not exist", http.StatusBadRequest).
		WithDetails("node", nodeID).
		WithDetails("refersTo", refersTo)
}

func MergeConflict(field string, nodeIDs []string) *ServiceError {
	return New(ErrCodeMergeConflict, "two concurrent branches may write the same field without a declared resolution", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("nodes", nodeIDs)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
