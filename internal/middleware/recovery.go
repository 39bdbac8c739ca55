package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into a 500 envelope carrying the request
// id. The panic is logged with the request's logger.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			l := requestLogger(c)
			l.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("method", c.Request.Method).
				Str("route", c.FullPath()).
				Str("path", c.Request.URL.Path).
				Msg("Handler panicked")

			abortWithError(c, http.StatusInternalServerError, "internal server error")
		}()
		c.Next()
	}
}
