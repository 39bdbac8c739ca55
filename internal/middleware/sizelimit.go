package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SizeLimitConfig caps request bodies. SkipPaths are exempt; the websocket
// upgrade carries no body.
type SizeLimitConfig struct {
	MaxBodySize int64
	SkipPaths   []string
}

// SizeLimit rejects bodies declared larger than MaxBodySize with 413. Bodies
// of unknown length are capped while being read, so binding fails instead.
func SizeLimit(config SizeLimitConfig) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		if c.Request.ContentLength > config.MaxBodySize {
			l := requestLogger(c)
			l.Warn().
				Int64("content_length", c.Request.ContentLength).
				Int64("max_body_size", config.MaxBodySize).
				Str("path", c.Request.URL.Path).
				Msg("Request body too large")
			abortWithError(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", config.MaxBodySize))
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.MaxBodySize)
		}

		c.Next()
	}
}
