package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/alarm-service/pkg/auth"
	"github.com/jwalitptl/alarm-service/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret", "alarm-service", time.Hour)
	token, err := jwtSvc.GenerateDeviceToken("dev-1")
	require.NoError(t, err)

	r := gin.New()
	r.Use(NewAuthMiddleware(jwtSvc).Authenticate())
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextDeviceID))
	})

	tests := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{name: "bearer header", header: "Bearer " + token, status: http.StatusOK, body: "dev-1"},
		{name: "query token", query: "?token=" + token, status: http.StatusOK, body: "dev-1"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, status: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer nope", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(r, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 2})
	r := gin.New()
	r.Use(rl.RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := func(ip string) int {
		rq := httptest.NewRequest(http.MethodGet, "/", nil)
		rq.RemoteAddr = ip + ":1234"
		return serve(r, rq).Code
	}

	assert.Equal(t, http.StatusOK, req("10.0.0.1"))
	assert.Equal(t, http.StatusOK, req("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, req("10.0.0.1"))
	// Each client has its own bucket.
	assert.Equal(t, http.StatusOK, req("10.0.0.2"))
}

func TestErrorHandler_RendersUnwrittenError(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), ErrorHandler())
	r.GET("/gone", func(c *gin.Context) {
		_ = c.Error(errors.NotFound("alarm", nil))
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/gone", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"alarm not found"`)
	assert.NotEmpty(t, w.Header().Get(HeaderXRequestID))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestRecovery(t *testing.T) {
	buf := captureLog(t)
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/alarms/:id", func(c *gin.Context) {
		c.Set(ContextDeviceID, "dev-1")
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/alarms/a1", nil)
	req.Header.Set(HeaderXRequestID, "rid-panic")
	w := serve(r, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"trace_id":"rid-panic"`)

	out := buf.String()
	assert.Contains(t, out, `"request_id":"rid-panic"`)
	assert.Contains(t, out, `"device_id":"dev-1"`)
	assert.Contains(t, out, `"route":"/alarms/:id"`)
	assert.Contains(t, out, `"panic":"boom"`)
}

func TestRecovery_WithoutRequestID(t *testing.T) {
	buf := captureLog(t)
	r := gin.New()
	r.Use(Recovery())
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), "Handler panicked")
}

func TestSizeLimit(t *testing.T) {
	buf := captureLog(t)
	r := gin.New()
	r.Use(RequestID(), SizeLimit(SizeLimitConfig{MaxBodySize: 8, SkipPaths: []string{"/ws"}}))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/ws", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	req.Header.Set(HeaderXRequestID, "rid-big")
	w := serve(r, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, buf.String(), `"request_id":"rid-big"`)
	assert.Contains(t, buf.String(), `"content_length":10`)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/ws", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://app.example"}
	r := gin.New()
	r.Use(CORS(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestBindingError(t *testing.T) {
	err := BindingError(assert.AnError)
	assert.Equal(t, errors.ErrBadRequest, errors.CodeOf(err))
}

func TestRequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		zerolog.Ctx(c.Request.Context()).Info().Msg("handled")
		c.String(http.StatusOK, c.GetString(ContextRequestID))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, "rid-1")
	w := serve(r, req)
	assert.Equal(t, "rid-1", w.Body.String())
	assert.Equal(t, "rid-1", w.Header().Get(HeaderXRequestID))
	assert.Contains(t, buf.String(), `"request_id":"rid-1"`)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, strings.Repeat("x", maxRequestIDLen+1))
	w = serve(r, req)
	assert.Len(t, w.Body.String(), 36)
}
