package router

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/alarm-service/internal/handler"
	"github.com/jwalitptl/alarm-service/internal/middleware"
	"github.com/jwalitptl/alarm-service/pkg/auth"
	"github.com/jwalitptl/alarm-service/pkg/metrics"
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(middleware.ContextDeviceID))
	})
}

func newTestRouter(t *testing.T, checks map[string]handler.Pinger) (*gin.Engine, auth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("alarm", "", reg)
	jwtSvc := auth.NewJWTService("secret", "alarm-service", time.Hour)

	r := NewRouter(
		middleware.NewAuthMiddleware(jwtSvc),
		handler.NewHandler(reg, checks),
		nil,
		[]Handler{pingRoutes{}},
		m,
		RouterConfig{CORSConfig: middleware.DefaultCORSConfig(), RequestTimeout: time.Second, MaxBodySize: 1 << 10},
	)
	r.Setup()
	return r.Engine(), jwtSvc
}

func get(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := get(r, "/api/v1/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.0", w.Header().Get("X-API-Version"))
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderXRequestID))

	w = get(r, "/api/v1/health/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(r, "/api/v1/health/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alarm_http_requests_total")
}

func TestRouter_ReadinessReportsFailedChecks(t *testing.T) {
	r, _ := newTestRouter(t, map[string]handler.Pinger{
		"redis": handler.PingFunc(func(context.Context) error { return stderrors.New("connection refused") }),
	})

	w := get(r, "/api/v1/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestRouter_ProtectedRoutes(t *testing.T) {
	r, jwtSvc := newTestRouter(t, nil)

	w := get(r, "/api/v1/whoami", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := jwtSvc.GenerateDeviceToken("dev-9")
	require.NoError(t, err)
	w = get(r, "/api/v1/whoami", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dev-9", w.Body.String())
}
