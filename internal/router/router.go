package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/alarm-service/internal/handler"
	"github.com/jwalitptl/alarm-service/internal/middleware"
	"github.com/jwalitptl/alarm-service/pkg/metrics"
)

const (
	apiPrefix = "/api/v1"
	wsPath    = apiPrefix + "/ws"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	RateLimit      rate.Limit
	RateBurst      int
	CORSConfig     middleware.CORSConfig
	RequestTimeout time.Duration
	MaxBodySize    int64
}

type Router struct {
	engine    *gin.Engine
	auth      *middleware.AuthMiddleware
	h         *handler.Handler
	public    []Handler
	protected []Handler
	metrics   *metrics.Metrics
}

// NewRouter wires the middleware chain. public handlers are reachable
// without a device token; protected ones require it.
func NewRouter(
	auth *middleware.AuthMiddleware,
	h *handler.Handler,
	public []Handler,
	protected []Handler,
	m *metrics.Metrics,
	config RouterConfig,
) *Router {
	engine := gin.New()
	middleware.RegisterBindingValidation()

	if m == nil {
		m = metrics.NewNop()
	}

	r := &Router{
		engine:    engine,
		auth:      auth,
		h:         h,
		public:    public,
		protected: protected,
		metrics:   m,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
		middleware.CORS(config.CORSConfig),
	)

	if config.RequestTimeout > 0 {
		engine.Use(middleware.Timeout(middleware.TimeoutConfig{
			Duration:  config.RequestTimeout,
			SkipPaths: []string{wsPath},
		}))
	}
	if config.MaxBodySize > 0 {
		engine.Use(middleware.SizeLimit(middleware.SizeLimitConfig{
			MaxBodySize: config.MaxBodySize,
			SkipPaths:   []string{wsPath},
		}))
	}
	if config.RateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group(apiPrefix)

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.h.RegisterRoutes(api)

	for _, h := range r.public {
		h.RegisterRoutes(api)
	}

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	for _, h := range r.protected {
		h.RegisterRoutes(protected)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		r.metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		r.metrics.HTTPLatency.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
