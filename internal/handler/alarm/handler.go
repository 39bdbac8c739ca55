package alarm

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/alarm-service/internal/handler"
	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/internal/service/syncer"
	"github.com/jwalitptl/alarm-service/pkg/errors"
)

// AlarmServicer is the command surface of the alarm service.
type AlarmServicer interface {
	ReplaceAll(ctx context.Context, alarms []model.Alarm) error
	Schedule(ctx context.Context, a model.Alarm) error
	Cancel(ctx context.Context, id string) bool
	TriggerNow(ctx context.Context, a model.Alarm, urgent bool) (bool, error)
	List(filter model.AlarmFilter) []model.Alarm
	Get(id string) (model.Alarm, bool)
	NotificationClicked(ctx context.Context, click model.NotificationClick) error
	Push(ctx context.Context, p model.PushPayload) (model.Notification, error)
}

// Syncer runs an upstream sync on demand.
type Syncer interface {
	RunOnce(ctx context.Context) (syncer.Result, error)
}

type Handler struct {
	handler.BaseHandler
	service AlarmServicer
	syncer  Syncer
}

// NewHandler builds the alarm handler. syncer may be nil when no upstream
// is configured; the sync route then answers 503.
func NewHandler(service AlarmServicer, syncer Syncer) *Handler {
	return &Handler{service: service, syncer: syncer}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	alarms := r.Group("/alarms")
	{
		alarms.GET("", h.ListAlarms)
		alarms.POST("", h.ScheduleAlarm)
		alarms.POST("/sync", h.SyncAlarms)
		alarms.DELETE("/:id", h.CancelAlarm)
		alarms.POST("/:id/trigger", h.TriggerAlarm)
	}
	r.POST("/notifications", h.PushNotification)
	r.POST("/notifications/click", h.NotificationClicked)
	r.POST("/sync", h.RunSync)
}

type triggerRequest struct {
	Urgent bool `json:"urgent"`
}

func (h *Handler) ListAlarms(c *gin.Context) {
	var filter model.AlarmFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		handler.RespondWithError(c, errors.BadRequest("invalid filter", err))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.service.List(filter)))
}

func (h *Handler) ScheduleAlarm(c *gin.Context) {
	var a model.Alarm
	if !h.BindJSON(c, &a) {
		return
	}
	if err := h.service.Schedule(c.Request.Context(), a); err != nil {
		handler.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(a))
}

func (h *Handler) SyncAlarms(c *gin.Context) {
	var req model.SyncAlarmsPayload
	if !h.BindJSON(c, &req) {
		return
	}
	if err := h.service.ReplaceAll(c.Request.Context(), req.Alarms); err != nil {
		handler.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"armed": len(h.service.List(model.AlarmFilter{}))}))
}

// CancelAlarm succeeds for unknown ids; removed tells the caller whether a
// pending alarm was actually dropped.
func (h *Handler) CancelAlarm(c *gin.Context) {
	removed := h.service.Cancel(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"removed": removed}))
}

func (h *Handler) TriggerAlarm(c *gin.Context) {
	var req triggerRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}

	a, ok := h.service.Get(c.Param("id"))
	if !ok {
		handler.RespondWithError(c, errors.NotFound("alarm", nil))
		return
	}

	delivered, err := h.service.TriggerNow(c.Request.Context(), a, req.Urgent)
	if err != nil {
		handler.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"delivered": delivered}))
}

func (h *Handler) NotificationClicked(c *gin.Context) {
	var click model.NotificationClick
	if !h.BindJSON(c, &click) {
		return
	}
	if err := h.service.NotificationClicked(c.Request.Context(), click); err != nil {
		handler.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

// PushNotification shows a server-originated notification and returns it as
// rendered.
func (h *Handler) PushNotification(c *gin.Context) {
	var p model.PushPayload
	if !h.BindJSON(c, &p) {
		return
	}
	n, err := h.service.Push(c.Request.Context(), p)
	if err != nil {
		handler.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(n))
}

func (h *Handler) RunSync(c *gin.Context) {
	if h.syncer == nil {
		c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("upstream sync is not configured"))
		return
	}
	res, err := h.syncer.RunOnce(c.Request.Context())
	if err != nil {
		handler.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(res))
}
