package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusRetry      OutboxStatus = "retry"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusProcessed  OutboxStatus = "processed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Outbox event types.
const (
	EventAlarmDelivered = "ALARM_DELIVERED"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}

// DeliveryReport tells the upstream backend that a public alarm was shown.
type DeliveryReport struct {
	AlarmID     string    `json:"alarm_id"`
	DeliveredAt time.Time `json:"-"`
}

type deliveryReportJSON struct {
	AlarmID     string `json:"alarm_id"`
	DeliveredAt int64  `json:"delivered_at"`
}

func (r DeliveryReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(deliveryReportJSON{AlarmID: r.AlarmID, DeliveredAt: r.DeliveredAt.UnixMilli()})
}

func (r *DeliveryReport) UnmarshalJSON(data []byte) error {
	var in deliveryReportJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.AlarmID = in.AlarmID
	r.DeliveredAt = time.UnixMilli(in.DeliveredAt).UTC()
	return nil
}
