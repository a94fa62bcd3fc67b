package dto

import (
	"time"

	"github.com/leadflow/backend/internal/domain/shared"
)

// Response is the envelope of every API answer
type Response struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo describes a failed call. RequestID lets operators find the
// matching log lines.
type ErrorInfo struct {
	Code      string             `json:"code"`
	Message   string             `json:"message"`
	RequestID string             `json:"request_id,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Details   []ValidationDetail `json:"details,omitempty"`
}

// ValidationDetail describes one invalid request field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Meta is the pagination of list answers such as the dead unit listing
type Meta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

func NewSuccessResponse(data any) Response {
	return Response{Success: true, Data: data}
}

// NewSuccessResponseWithMeta wraps one page of a listing. Out of range page
// values are normalized the way the services normalize them.
func NewSuccessResponseWithMeta(data any, total int64, page, pageSize int) Response {
	p := shared.PageRequest{Page: page, PageSize: pageSize}.Normalize()
	return Response{
		Success: true,
		Data:    data,
		Meta: &Meta{
			Total:      total,
			Page:       p.Page,
			PageSize:   p.PageSize,
			TotalPages: p.Pages(total),
		},
	}
}

// NewErrorResponseWithRequestID builds an error answer. Domain codes are
// normalized to API codes.
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	return Response{
		Message: message,
		Error: &ErrorInfo{
			Code:      NormalizeErrorCode(code),
			Message:   message,
			RequestID: requestID,
			Timestamp: time.Now(),
		},
	}
}

// NewValidationErrorResponse builds a 422 answer with per-field details.
func NewValidationErrorResponse(message, requestID string, details []ValidationDetail) Response {
	resp := NewErrorResponseWithRequestID(ErrCodeValidation, message, requestID)
	resp.Error.Details = details
	return resp
}
