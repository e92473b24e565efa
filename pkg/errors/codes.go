package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeMethodNotAllowed   ErrorCode = "COMMON_015"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Aliases used at call sites that predate the numbered codes.
const (
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeUnauthorized = ErrCodeUnauthorized
	CodeForbidden    = ErrCodeForbidden
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeRateLimit    = ErrCodeTooManyRequests
	CodeValidation   = ErrCodeValidation
	CodeOK           = ErrorCode("OK")
	CodeUnknown      = ErrorCode("UNKNOWN")
)

// Request screening codes
const (
	ErrCodeSuspiciousRequest ErrorCode = "SEC_001"
	ErrCodeAccessDenied      ErrorCode = "SEC_002"
)

// Query construction codes. A handler that trips one of these referenced a
// column, operator or shape outside the entity registry.
const (
	ErrCodeUnknownEntity      ErrorCode = "QUERY_001"
	ErrCodeInvalidColumn      ErrorCode = "QUERY_002"
	ErrCodeInvalidOperator    ErrorCode = "QUERY_003"
	ErrCodeInvalidFilterValue ErrorCode = "QUERY_004"
	ErrCodeInvalidSearchTerm  ErrorCode = "QUERY_005"
	ErrCodeEmptySelection     ErrorCode = "QUERY_006"
	ErrCodeUnboundedMutation  ErrorCode = "QUERY_007"
)

// Storage codes. Messages for these are fixed and never carry driver text.
const (
	ErrCodeStorageNotFound     ErrorCode = "STORE_001"
	ErrCodeStorageAccessDenied ErrorCode = "STORE_002"
	ErrCodeStorageConflict     ErrorCode = "STORE_003"
	ErrCodeStorageFailure      ErrorCode = "STORE_004"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeMethodNotAllowed:   http.StatusMethodNotAllowed,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeSuspiciousRequest: http.StatusForbidden,
	ErrCodeAccessDenied:      http.StatusForbidden,

	ErrCodeUnknownEntity:      http.StatusBadRequest,
	ErrCodeInvalidColumn:      http.StatusBadRequest,
	ErrCodeInvalidOperator:    http.StatusBadRequest,
	ErrCodeInvalidFilterValue: http.StatusBadRequest,
	ErrCodeInvalidSearchTerm:  http.StatusBadRequest,
	ErrCodeEmptySelection:     http.StatusBadRequest,
	ErrCodeUnboundedMutation:  http.StatusBadRequest,

	ErrCodeStorageNotFound:     http.StatusNotFound,
	ErrCodeStorageAccessDenied: http.StatusForbidden,
	ErrCodeStorageConflict:     http.StatusConflict,
	ErrCodeStorageFailure:      http.StatusInternalServerError,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "Internal server error",
	ErrCodeBadRequest:         "Bad request",
	ErrCodeUnauthorized:       "Authentication required",
	ErrCodeForbidden:          "Forbidden",
	ErrCodeNotFound:           "Resource not found",
	ErrCodeConflict:           "Resource conflict",
	ErrCodeTooManyRequests:    "Rate limit exceeded",
	ErrCodeServiceUnavailable: "Service unavailable",
	ErrCodeTimeout:            "Request timeout",
	ErrCodeValidation:         "Validation failed",
	ErrCodeSerialization:      "Serialization failed",
	ErrCodeDatabaseError:      "Database error",
	ErrCodeCacheError:         "Cache error",
	ErrCodeExternalService:    "External service error",
	ErrCodeMethodNotAllowed:   "Method not allowed",
	ErrCodeNotImplemented:     "Not implemented",

	ErrCodeSuspiciousRequest: "Forbidden",
	ErrCodeAccessDenied:      "Access denied",

	ErrCodeUnknownEntity:      "Invalid query",
	ErrCodeInvalidColumn:      "Invalid column",
	ErrCodeInvalidOperator:    "Invalid operator",
	ErrCodeInvalidFilterValue: "Invalid filter value",
	ErrCodeInvalidSearchTerm:  "Invalid search term",
	ErrCodeEmptySelection:     "No valid columns selected",
	ErrCodeUnboundedMutation:  "Mutation requires a filter",

	ErrCodeStorageNotFound:     "Resource not found",
	ErrCodeStorageAccessDenied: "Access denied",
	ErrCodeStorageConflict:     "Data conflict",
	ErrCodeStorageFailure:      "Operation failed",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "Unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// IsQueryConstruction reports whether code belongs to the QUERY module.
func IsQueryConstruction(code ErrorCode) bool {
	return ModuleForCode(code) == "QUERY"
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
