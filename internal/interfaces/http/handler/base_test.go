package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/domain/shared"
	"github.com/leadflow/backend/internal/interfaces/http/dto"
	"github.com/leadflow/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext(method, target string, body string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	return c, w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*gin.Context)
		expectedID string
	}{
		{
			name: "from context",
			setup: func(c *gin.Context) {
				c.Set(middleware.RequestIDKey, "ctx-request-id")
			},
			expectedID: "ctx-request-id",
		},
		{
			name: "from header when context empty",
			setup: func(c *gin.Context) {
				c.Request.Header.Set(middleware.RequestIDHeader, "header-request-id")
			},
			expectedID: "header-request-id",
		},
		{
			name:       "empty when not set",
			setup:      func(c *gin.Context) {},
			expectedID: "",
		},
		{
			name: "context takes precedence over header",
			setup: func(c *gin.Context) {
				c.Set(middleware.RequestIDKey, "ctx-id")
				c.Request.Header.Set(middleware.RequestIDHeader, "header-id")
			},
			expectedID: "ctx-id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestContext(http.MethodGet, "/", "")
			tt.setup(c)
			assert.Equal(t, tt.expectedID, getRequestID(c))
		})
	}
}

func TestBaseHandlerSuccessWithMeta(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext(http.MethodGet, "/", "")

	h.SuccessWithMeta(c, []string{"a", "b"}, 45, 2, 20)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(45), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.Page)
	assert.Equal(t, 3, resp.Meta.TotalPages)
}

func TestBaseHandlerStatusHelpers(t *testing.T) {
	h := &BaseHandler{}

	tests := []struct {
		name         string
		call         func(*gin.Context)
		expectedCode int
		errorCode    string
	}{
		{"created", func(c *gin.Context) { h.Created(c, "x") }, http.StatusCreated, ""},
		{"accepted", func(c *gin.Context) { h.Accepted(c, "x") }, http.StatusAccepted, ""},
		{"bad request", func(c *gin.Context) { h.BadRequest(c, "bad") }, http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"not found", func(c *gin.Context) { h.NotFound(c, "missing") }, http.StatusNotFound, dto.ErrCodeNotFound},
		{"unprocessable", func(c *gin.Context) { h.UnprocessableEntity(c, dto.ErrCodeNoCredentials, "none") }, http.StatusUnprocessableEntity, dto.ErrCodeNoCredentials},
		{"internal", func(c *gin.Context) { h.InternalError(c, "boom") }, http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestContext(http.MethodGet, "/", "")
			tt.call(c)

			assert.Equal(t, tt.expectedCode, w.Code)
			resp := decodeResponse(t, w)
			if tt.errorCode == "" {
				assert.True(t, resp.Success)
				return
			}
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.errorCode, resp.Error.Code)
		})
	}
}

func TestBaseHandlerErrorWithRequestID(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext(http.MethodGet, "/", "")
	c.Set(middleware.RequestIDKey, "req-42")

	h.NotFound(c, "Lead not found")

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "req-42", resp.Error.RequestID)
	assert.Equal(t, "Lead not found", resp.Message)
}

func TestBaseHandlerErrorWithCode(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext(http.MethodGet, "/", "")

	h.ErrorWithCode(c, "UNIT_NOT_FOUND", "Dispatch unit not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
}

func TestBaseHandlerBindJSON(t *testing.T) {
	type body struct {
		LeadID string `json:"lead_id" binding:"required,uuid"`
	}
	h := &BaseHandler{}

	t.Run("valid body", func(t *testing.T) {
		c, _ := newTestContext(http.MethodPost, "/", `{"lead_id":"0b7f6a1e-8f54-4d0c-9a53-3f1f0a2d6d11"}`)
		var req body
		assert.True(t, h.BindJSON(c, &req, false))
		assert.Equal(t, "0b7f6a1e-8f54-4d0c-9a53-3f1f0a2d6d11", req.LeadID)
	})

	t.Run("malformed json is a bad request", func(t *testing.T) {
		c, w := newTestContext(http.MethodPost, "/", `{"lead_id":`)
		var req body
		assert.False(t, h.BindJSON(c, &req, false))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidJSON, decodeResponse(t, w).Error.Code)
	})

	t.Run("failed rule is unprocessable", func(t *testing.T) {
		c, w := newTestContext(http.MethodPost, "/", `{"lead_id":"nope"}`)
		var req body
		assert.False(t, h.BindJSON(c, &req, false))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("body cut off by the size limit is too large", func(t *testing.T) {
		c, w := newTestContext(http.MethodPost, "/", `{"lead_id":"0b7f6a1e-8f54-4d0c-9a53-3f1f0a2d6d11"}`)
		c.Request.Body = http.MaxBytesReader(w, c.Request.Body, 16)
		var req body
		assert.False(t, h.BindJSON(c, &req, false))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, dto.ErrCodeBodyTooLarge, decodeResponse(t, w).Error.Code)
	})

	t.Run("empty body allowed", func(t *testing.T) {
		type optional struct {
			Wait bool `json:"wait"`
		}
		c, w := newTestContext(http.MethodPost, "/", "")
		c.Request.Header.Set("Content-Type", "application/json")
		var req optional
		assert.True(t, h.BindJSON(c, &req, true))
		assert.False(t, req.Wait)
		assert.Equal(t, 0, w.Body.Len())
	})
}

func TestBaseHandlerHandleError(t *testing.T) {
	h := &BaseHandler{}

	tests := []struct {
		name         string
		err          error
		expectedCode int
		errorCode    string
	}{
		{"domain not found", shared.NewDomainError("UNIT_NOT_FOUND", "Dispatch unit not found"), http.StatusNotFound, dto.ErrCodeNotFound},
		{"domain invalid status", shared.NewDomainError("INVALID_STATUS", "Unit is not dead"), http.StatusUnprocessableEntity, dto.ErrCodeInvalidState},
		{"domain concurrency", shared.NewDomainError("CONCURRENCY_CONFLICT", "changed"), http.StatusConflict, dto.ErrCodeConcurrencyConflict},
		{"unsupported type", integration.NewUnsupportedTypeError("salesforce"), http.StatusBadRequest, dto.ErrCodeUnsupportedType},
		{"wrapped lead not found", fmt.Errorf("load: %w", lead.ErrLeadNotFound), http.StatusNotFound, dto.ErrCodeNotFound},
		{"unit not found", integration.ErrUnitNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"batch not found", integration.ErrBatchNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"no credentials", integration.ErrCredentialSetAbsent, http.StatusUnprocessableEntity, dto.ErrCodeNoCredentials},
		{"invalid lead", lead.ErrInvalidLead, http.StatusUnprocessableEntity, dto.ErrCodeValidation},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestContext(http.MethodGet, "/", "")
			h.HandleError(c, tt.err)

			assert.Equal(t, tt.expectedCode, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.errorCode, resp.Error.Code)
			assert.Len(t, c.Errors, 1)
		})
	}
}

func TestBaseHandlerHandleErrorHidesInternalMessage(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext(http.MethodGet, "/", "")

	h.HandleError(c, errors.New("pq: password authentication failed"))

	assert.NotContains(t, w.Body.String(), "password")
}

func TestBaseHandlerResult(t *testing.T) {
	h := &BaseHandler{}

	tests := []struct {
		name         string
		result       *integration.Result
		expectedCode int
		errorCode    string
	}{
		{"success", integration.Success("Lead sent", "42", nil), http.StatusOK, ""},
		{"invalid credentials", integration.InvalidCredentials(), http.StatusUnprocessableEntity, dto.ErrCodeValidation},
		{"remote rejection", integration.Failure("Bad request", 400, map[string]any{"body": "bad"}), http.StatusInternalServerError, dto.ErrCodeRemote},
		{"transport", integration.Failure("dial tcp: timeout", 0, nil), http.StatusInternalServerError, dto.ErrCodeTransport},
		{"not implemented", integration.NotImplemented("mailchimp"), http.StatusInternalServerError, dto.ErrCodeNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestContext(http.MethodPost, "/", "")
			h.Result(c, tt.result)

			assert.Equal(t, tt.expectedCode, w.Code)
			resp := decodeResponse(t, w)
			assert.Equal(t, tt.result.Message(), resp.Message)
			assert.NotNil(t, resp.Data)
			if tt.errorCode == "" {
				assert.True(t, resp.Success)
				assert.Nil(t, resp.Error)
				return
			}
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.errorCode, resp.Error.Code)
		})
	}
}
