package model

import "time"

// NotificationType is carried in the notification data so pages can tell
// what was clicked.
type NotificationType string

const (
	NotificationTypeAlarm      NotificationType = "alarm"
	NotificationTypeEscalation NotificationType = "alarm_escalation"
	NotificationTypeBroadcast  NotificationType = "broadcast"
	// NotificationTypePush is the default for server-pushed notifications.
	NotificationTypePush NotificationType = "notification"
)

// Notification actions offered on every rendered alert.
const (
	ActionView    = "view"
	ActionDismiss = "dismiss"
	// ActionClose is the dismiss action used by older pages.
	ActionClose = "close"
)

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is a fully rendered user-visible alert, independent of the
// surface (page, broker, mail) that finally shows it.
type Notification struct {
	Title              string                 `json:"title"`
	Body               string                 `json:"body"`
	Tag                string                 `json:"tag"`
	RequireInteraction bool                   `json:"requireInteraction"`
	Vibrate            []int                  `json:"vibrate"`
	Actions            []NotificationAction   `json:"actions"`
	Data               map[string]interface{} `json:"data"`
	Priority           AlarmPriority          `json:"priority,omitempty"`
	CreatedAt          time.Time              `json:"createdAt"`
}

// NotificationClick is what a page reports when the user interacts with a
// rendered notification.
type NotificationClick struct {
	Tag         string `json:"tag" validate:"required"`
	Action      string `json:"action"`
	AlarmID     string `json:"alarm_id,omitempty"`
	BroadcastID string `json:"broadcast_id,omitempty"`
}

func (c NotificationClick) Dismissed() bool {
	return c.Action == ActionDismiss || c.Action == ActionClose
}

// PushPayload is a notification pushed by a backend. Everything but Title
// and Body is optional; missing fields get the push defaults when rendered.
type PushPayload struct {
	Title       string                 `json:"title" binding:"required,max=256" validate:"required,max=256"`
	Body        string                 `json:"body" binding:"max=2048" validate:"max=2048"`
	Tag         string                 `json:"tag,omitempty" binding:"max=256" validate:"max=256"`
	URL         string                 `json:"url,omitempty" binding:"max=2048" validate:"max=2048"`
	Type        NotificationType       `json:"type,omitempty" binding:"max=64" validate:"max=64"`
	Timestamp   int64                  `json:"timestamp,omitempty"`
	AlarmID     string                 `json:"alarm_id,omitempty"`
	BroadcastID string                 `json:"broadcast_id,omitempty"`
	Actions     []NotificationAction   `json:"actions,omitempty" binding:"max=4" validate:"max=4"`
	Data        map[string]interface{} `json:"data,omitempty"`
}
