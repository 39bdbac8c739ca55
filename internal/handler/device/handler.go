package device

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/alarm-service/internal/handler"
	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/pkg/auth"
	"github.com/jwalitptl/alarm-service/pkg/logger"
)

// Registrar forwards a device registration to the upstream backend.
type Registrar interface {
	RegisterDevice(ctx context.Context, d model.Device) error
}

type Handler struct {
	handler.BaseHandler
	registrar Registrar
	jwt       auth.JWTService
	logger    *logger.Logger
}

// NewHandler builds the device handler. A nil registrar issues tokens
// without telling the upstream backend.
func NewHandler(registrar Registrar, jwt auth.JWTService, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{registrar: registrar, jwt: jwt, logger: log}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/devices", h.Register)
}

func (h *Handler) Register(c *gin.Context) {
	var d model.Device
	if !h.BindJSON(c, &d) {
		return
	}
	if d.UserAgent == "" {
		d.UserAgent = c.Request.UserAgent()
	}

	if h.registrar != nil {
		if err := h.registrar.RegisterDevice(c.Request.Context(), d); err != nil {
			handler.RespondWithError(c, err)
			return
		}
	}

	token, err := h.jwt.GenerateDeviceToken(d.DeviceID)
	if err != nil {
		handler.RespondWithError(c, err)
		return
	}

	h.logger.Info("Device registered", "device_id", d.DeviceID, "platform", d.Platform)
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(model.DeviceToken{
		DeviceID:    d.DeviceID,
		AccessToken: token,
		ExpiresIn:   int64(h.jwt.TTL().Seconds()),
	}))
}
