package model

import "encoding/json"

// MessageType names a page<->service message.
type MessageType string

// Inbound commands.
const (
	MessageSyncAlarms     MessageType = "SYNC_ALARMS"
	MessageScheduleAlarm  MessageType = "SCHEDULE_ALARM"
	MessageCancelAlarm    MessageType = "CANCEL_ALARM"
	MessageTriggerAlarm   MessageType = "TRIGGER_ALARM"
	MessageRegisterDevice MessageType = "REGISTER_DEVICE"
	MessagePush           MessageType = "PUSH"
)

// Outbound events.
const (
	MessageAlarmTriggered      MessageType = "ALARM_TRIGGERED"
	MessageNotification        MessageType = "NOTIFICATION"
	MessageNotificationClicked MessageType = "NOTIFICATION_CLICKED"
	MessageError               MessageType = "ERROR"
)

// Message is the envelope used on the websocket and the broker.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into an envelope.
func NewMessage(t MessageType, payload interface{}) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: raw}, nil
}

type SyncAlarmsPayload struct {
	Alarms []Alarm `json:"alarms"`
}

type CancelAlarmPayload struct {
	ID string `json:"id" validate:"required"`
}

type TriggerAlarmPayload struct {
	Alarm  Alarm `json:"alarm"`
	Urgent bool  `json:"urgent"`
}

// AlarmTriggeredPayload is relayed to pages after each delivery.
type AlarmTriggeredPayload struct {
	Alarm      Alarm `json:"alarm"`
	Urgent     bool  `json:"urgent"`
	Escalation bool  `json:"escalation"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
