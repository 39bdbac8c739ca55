package notification

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/pkg/errors"
	"github.com/jwalitptl/alarm-service/pkg/logger"
	"github.com/jwalitptl/alarm-service/pkg/metrics"
)

const (
	prefixPersonal   = "Reminder: "
	prefixPublic     = "Public reminder: "
	prefixEscalation = "[Again] "
	prefixBroadcast  = "Announcement: "

	defaultTitle = "New notification"
	defaultBody  = "You have a new notification"
	defaultURL   = "/"
	defaultTag   = "notification"
)

var (
	vibrateNormal = []int{200, 100, 200}
	vibrateUrgent = []int{500, 200, 500, 200, 500}
)

// Presenter renders a notification on one surface.
type Presenter interface {
	Name() string
	Present(ctx context.Context, n model.Notification) error
}

type Service interface {
	// AlarmNotification renders a delivered alarm.
	AlarmNotification(a model.Alarm, urgent, escalation bool) model.Notification
	// BroadcastNotification renders a broadcast.
	BroadcastNotification(b model.Broadcast) model.Notification
	// PushNotification renders a backend-pushed payload, filling the push
	// defaults for anything it leaves out.
	PushNotification(p model.PushPayload) model.Notification
	// Show hands n to every presenter. All presenters are tried; failures
	// are joined into one collaborator error.
	Show(ctx context.Context, n model.Notification) error
	AddPresenter(p Presenter)
}

type service struct {
	presenters []Presenter
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(log *logger.Logger, m *metrics.Metrics, presenters ...Presenter) Service {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &service{
		presenters: presenters,
		logger:     log,
		metrics:    m,
		now:        time.Now,
	}
}

func (s *service) AddPresenter(p Presenter) {
	s.presenters = append(s.presenters, p)
}

func (s *service) AlarmNotification(a model.Alarm, urgent, escalation bool) model.Notification {
	prefix := prefixPersonal
	if a.IsPublic() {
		prefix = prefixPublic
	}
	title := prefix + a.Title
	nType := model.NotificationTypeAlarm
	if escalation {
		title = prefixEscalation + title
		nType = model.NotificationTypeEscalation
	}

	body := a.Description
	if body == "" {
		body = defaultBody
	}

	loud := urgent || a.IsHighPriority()
	now := s.now()

	return model.Notification{
		Title:              title,
		Body:               body,
		Tag:                "alarm-" + a.ID,
		RequireInteraction: loud,
		Vibrate:            vibration(loud),
		Actions:            defaultActions(),
		Data: map[string]interface{}{
			"url":       defaultURL,
			"type":      string(nType),
			"alarm_id":  a.ID,
			"timestamp": now.UnixMilli(),
		},
		Priority:  a.Priority,
		CreatedAt: now,
	}
}

func (s *service) BroadcastNotification(b model.Broadcast) model.Notification {
	body := b.Message
	if body == "" {
		body = defaultBody
	}
	priority := model.AlarmPriorityNormal
	if b.Urgent {
		priority = model.AlarmPriorityHigh
	}
	now := s.now()

	return model.Notification{
		Title:              prefixBroadcast + b.Title,
		Body:               body,
		Tag:                "broadcast-" + b.ID,
		RequireInteraction: b.Urgent,
		Vibrate:            vibration(b.Urgent),
		Actions:            defaultActions(),
		Data: map[string]interface{}{
			"url":          defaultURL,
			"type":         string(model.NotificationTypeBroadcast),
			"broadcast_id": b.ID,
			"timestamp":    now.UnixMilli(),
		},
		Priority:  priority,
		CreatedAt: now,
	}
}

func (s *service) PushNotification(p model.PushPayload) model.Notification {
	now := s.now()

	title := p.Title
	if title == "" {
		title = defaultTitle
	}
	body := p.Body
	if body == "" {
		body = defaultBody
	}
	tag := p.Tag
	if tag == "" {
		tag = defaultTag
	}
	actions := p.Actions
	if len(actions) == 0 {
		actions = defaultActions()
	}

	data := make(map[string]interface{}, len(p.Data)+5)
	for k, v := range p.Data {
		data[k] = v
	}
	data["url"] = defaultURL
	if p.URL != "" {
		data["url"] = p.URL
	}
	data["type"] = string(model.NotificationTypePush)
	if p.Type != "" {
		data["type"] = string(p.Type)
	}
	data["timestamp"] = now.UnixMilli()
	if p.Timestamp > 0 {
		data["timestamp"] = p.Timestamp
	}
	if p.AlarmID != "" {
		data["alarm_id"] = p.AlarmID
	}
	if p.BroadcastID != "" {
		data["broadcast_id"] = p.BroadcastID
	}

	return model.Notification{
		Title:              title,
		Body:               body,
		Tag:                tag,
		RequireInteraction: true,
		Vibrate:            vibration(false),
		Actions:            actions,
		Data:               data,
		CreatedAt:          now,
	}
}

func (s *service) Show(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, p := range s.presenters {
		if err := p.Present(ctx, n); err != nil {
			s.metrics.RenderFailures.WithLabelValues(p.Name()).Inc()
			s.logger.Error(err, "Presenter failed", "presenter", p.Name(), "tag", n.Tag)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Collaborator("presenter", stderrors.Join(errs...))
	}
	return nil
}

func vibration(loud bool) []int {
	src := vibrateNormal
	if loud {
		src = vibrateUrgent
	}
	return append([]int(nil), src...)
}

func defaultActions() []model.NotificationAction {
	return []model.NotificationAction{
		{Action: model.ActionView, Title: "View"},
		{Action: model.ActionDismiss, Title: "Dismiss"},
	}
}
