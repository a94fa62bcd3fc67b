package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func consoleCORS() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{"https://console.leadflow.test"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           time.Hour,
	}
}

func serveCORS(cfg CORSConfig, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORSWithConfig(cfg))
	router.POST("/api/v1/leads/:id/resend", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	req := httptest.NewRequest(method, "/api/v1/leads/l-1/resend", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS_ConsoleOriginIsEchoed(t *testing.T) {
	w := serveCORS(consoleCORS(), http.MethodPost, "https://console.leadflow.test")

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "https://console.leadflow.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
	assert.Equal(t, RequestIDHeader, w.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORS_Preflight(t *testing.T) {
	t.Run("allowed origin", func(t *testing.T) {
		w := serveCORS(consoleCORS(), http.MethodOptions, "https://console.leadflow.test")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("unknown origin gets no headers", func(t *testing.T) {
		w := serveCORS(consoleCORS(), http.MethodOptions, "https://evil.test")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORS_ServerToServerCallsPassUntouched(t *testing.T) {
	w := serveCORS(CORSConfig{}, http.MethodPost, "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_WildcardNeverSendsCredentials(t *testing.T) {
	cfg := consoleCORS()
	cfg.AllowOrigins = []string{"*"}
	w := serveCORS(cfg, http.MethodPost, "https://anywhere.test")

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/api/v1/dispatch/stats", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	serve := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/dispatch/stats", nil)
		if header != "" {
			req.Header.Set(RequestIDHeader, header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := serve("crm-callback-17")
	assert.Equal(t, "crm-callback-17", w.Body.String())
	assert.Equal(t, "crm-callback-17", w.Header().Get(RequestIDHeader))

	w = serve("")
	_, err := uuid.Parse(w.Body.String())
	require.NoError(t, err)
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))

	w = serve(strings.Repeat("a", 200))
	_, err = uuid.Parse(w.Body.String())
	assert.NoError(t, err, "oversized ids are replaced")
}

func TestSecure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	serve := func(hsts bool, path string) http.Header {
		router := gin.New()
		router.Use(Secure(hsts))
		router.GET("/*any", func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Header()
	}

	h := serve(false, "/api/v1/batches/b-1")
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", h.Get("Cache-Control"))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", h.Get("Content-Security-Policy"))
	assert.Empty(t, h.Get("Strict-Transport-Security"))

	h = serve(true, "/swagger/index.html")
	assert.Empty(t, h.Get("Content-Security-Policy"), "the docs UI loads its own scripts")
	assert.Contains(t, h.Get("Strict-Transport-Security"), "max-age=31536000")
}
