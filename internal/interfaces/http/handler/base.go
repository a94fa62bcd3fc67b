package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	appintegration "github.com/leadflow/backend/internal/application/integration"
	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/domain/shared"
	"github.com/leadflow/backend/internal/interfaces/http/dto"
	"github.com/leadflow/backend/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}
	if id := c.GetHeader(middleware.RequestIDHeader); id != "" {
		return id
	}
	return ""
}

// parseID parses the :id path parameter
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	return id, err == nil
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 response for work handed to the queue
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	code = dto.NormalizeErrorCode(code)
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// UnprocessableEntity sends a 422 unprocessable entity response
func (h *BaseHandler) UnprocessableEntity(c *gin.Context, code, message string) {
	h.Error(c, http.StatusUnprocessableEntity, code, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ValidationFailed sends a 422 built from binding errors
func (h *BaseHandler) ValidationFailed(c *gin.Context, err error) {
	middleware.HandleValidationError(c, err)
}

// BindJSON binds the request body into req. Malformed JSON is a 400,
// failed binding rules are a 422 and a body cut off by BodyLimit is a 413.
// It reports whether the handler may go on. An empty body binds to the
// zero value when allowEmpty is set.
func (h *BaseHandler) BindJSON(c *gin.Context, req any, allowEmpty bool) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	if allowEmpty && errors.Is(err, io.EOF) {
		return true
	}
	if middleware.IsBodyTooLarge(err) {
		h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeBodyTooLarge, "Request body exceeds maximum allowed size")
		return false
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		h.ValidationFailed(c, err)
		return false
	}
	h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Invalid request body")
	return false
}

// HandleError maps service errors to HTTP responses: domain errors by code,
// dispatch sentinels by kind and everything else to 500
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.ErrorWithCode(c, domainErr.Code, domainErr.Message)
		return
	}

	switch {
	case errors.Is(err, integration.ErrUnsupportedType):
		h.Error(c, http.StatusBadRequest, dto.ErrCodeUnsupportedType, err.Error())
	case errors.Is(err, lead.ErrLeadNotFound):
		h.NotFound(c, "Lead not found")
	case errors.Is(err, integration.ErrUnitNotFound):
		h.NotFound(c, "Dispatch unit not found")
	case errors.Is(err, integration.ErrBatchNotFound):
		h.NotFound(c, "Batch not found")
	case errors.Is(err, integration.ErrCredentialSetAbsent):
		h.UnprocessableEntity(c, dto.ErrCodeNoCredentials, "No integration is configured for the lead")
	case errors.Is(err, lead.ErrInvalidLead):
		h.UnprocessableEntity(c, dto.ErrCodeValidation, err.Error())
	default:
		h.InternalError(c, "An unexpected error occurred")
	}
}

// resultErrorCode maps a failed result kind to an API error code
func resultErrorCode(kind integration.ErrorKind) string {
	switch kind {
	case integration.ErrorKindValidation:
		return dto.ErrCodeValidation
	case integration.ErrorKindRemote:
		return dto.ErrCodeRemote
	case integration.ErrorKindNotImplemented:
		return dto.ErrCodeNotImplemented
	default:
		return dto.ErrCodeTransport
	}
}

// Result sends an integration result. A failed result keeps its payload in
// data so clients can see the remote status and body.
func (h *BaseHandler) Result(c *gin.Context, res *integration.Result) {
	out := appintegration.ToResultDTO(res)
	if res.IsSuccess() {
		c.JSON(http.StatusOK, dto.Response{Success: true, Message: out.Message, Data: out})
		return
	}

	code := resultErrorCode(res.Kind())
	resp := dto.NewErrorResponseWithRequestID(code, out.Message, getRequestID(c))
	resp.Data = out
	c.JSON(dto.GetHTTPStatus(code), resp)
}
