package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/alarm-service/internal/middleware"
)

// BaseHandler carries helpers shared by the resource handlers.
type BaseHandler struct{}

// DeviceID returns the device authenticated for this request, if any.
func (h *BaseHandler) DeviceID(c *gin.Context) string {
	return c.GetString(middleware.ContextDeviceID)
}

// BindJSON decodes the body into obj. On failure it writes the error
// response and returns false.
func (h *BaseHandler) BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		RespondWithError(c, middleware.BindingError(err))
		return false
	}
	return true
}
