package dto

import "net/http"

// API error codes, ERR_<DESCRIPTION>
const (
	ErrCodeInternal = "ERR_INTERNAL"

	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"
	ErrCodeBodyTooLarge = "ERR_BODY_TOO_LARGE"
	ErrCodeValidation   = "ERR_VALIDATION"
	ErrCodeRateLimited  = "ERR_RATE_LIMITED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"

	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeInvalidState        = "ERR_INVALID_STATE"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"

	// ErrCodeUnsupportedType: no channel is registered for the type
	ErrCodeUnsupportedType = "ERR_UNSUPPORTED_TYPE"
	// ErrCodeNoCredentials: the lead has no credential set to dispatch to
	ErrCodeNoCredentials = "ERR_NO_CREDENTIALS"
	// ErrCodeRemote: the remote system answered and rejected the call
	ErrCodeRemote = "ERR_REMOTE"
	// ErrCodeTransport: the remote system could not be reached
	ErrCodeTransport      = "ERR_TRANSPORT"
	ErrCodeNotImplemented = "ERR_NOT_IMPLEMENTED"
)

var statusByCode = map[string]int{
	ErrCodeInternal:            http.StatusInternalServerError,
	ErrCodeBadRequest:          http.StatusBadRequest,
	ErrCodeInvalidJSON:         http.StatusBadRequest,
	ErrCodeBodyTooLarge:        http.StatusRequestEntityTooLarge,
	ErrCodeValidation:          http.StatusUnprocessableEntity,
	ErrCodeRateLimited:         http.StatusTooManyRequests,
	ErrCodeForbidden:           http.StatusForbidden,
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeInvalidState:        http.StatusUnprocessableEntity,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeUnsupportedType:     http.StatusBadRequest,
	ErrCodeNoCredentials:       http.StatusUnprocessableEntity,
	// failed channel calls are server errors whatever the remote said
	ErrCodeRemote:         http.StatusInternalServerError,
	ErrCodeTransport:      http.StatusInternalServerError,
	ErrCodeNotImplemented: http.StatusInternalServerError,
}

// GetHTTPStatus returns the status for code; unknown codes are 500.
func GetHTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// domainCodes maps the codes of shared.DomainError values raised by the
// dispatch services to API codes
var domainCodes = map[string]string{
	"NOT_FOUND":            ErrCodeNotFound,
	"UNIT_NOT_FOUND":       ErrCodeNotFound,
	"BATCH_NOT_FOUND":      ErrCodeNotFound,
	"LEAD_NOT_FOUND":       ErrCodeNotFound,
	"INVALID_STATUS":       ErrCodeInvalidState,
	"CONCURRENCY_CONFLICT": ErrCodeConcurrencyConflict,
	"INTERNAL_ERROR":       ErrCodeInternal,
}

// NormalizeErrorCode converts a domain error code to its API code. API
// codes and unknown codes pass through.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := domainCodes[code]; ok {
		return apiCode
	}
	return code
}
