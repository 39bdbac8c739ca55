package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	HeaderXRequestID = "X-Request-ID"
	ContextRequestID = "request_id"

	maxRequestIDLen = 128
)

// RequestID tags each request with an id, taken from the client when it sent
// a usable one. The id is echoed in the response and bound to a logger on
// the request context, so zerolog.Ctx(ctx) carries it downstream.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderXRequestID)
		if rid == "" || len(rid) > maxRequestIDLen {
			rid = uuid.NewString()
		}

		c.Set(ContextRequestID, rid)
		c.Header(HeaderXRequestID, rid)

		reqLog := log.With().Str(ContextRequestID, rid).Logger()
		c.Request = c.Request.WithContext(reqLog.WithContext(c.Request.Context()))
		c.Next()
	}
}

// requestLogger returns the logger bound by RequestID, or the global one on
// engines that do not run it. The device id is added once auth has set it.
func requestLogger(c *gin.Context) zerolog.Logger {
	l := *zerolog.Ctx(c.Request.Context())
	if l.GetLevel() == zerolog.Disabled {
		l = log.Logger
	}
	if id := c.GetString(ContextDeviceID); id != "" {
		l = l.With().Str("device_id", id).Logger()
	}
	return l
}
