package scheduler

import (
	"context"
	"time"

	"github.com/jwalitptl/alarm-service/internal/model"
)

// Delivery is emitted when an alarm transitions to delivered, and again for
// each escalation of a high-priority alarm.
type Delivery struct {
	Alarm      model.Alarm
	Urgent     bool
	Escalation bool
	At         time.Time
}

// Report is emitted for delivered public alarms so the upstream backend can
// record them.
type Report struct {
	AlarmID     string
	DeliveredAt time.Time
}

// Sink receives scheduler side effects. Methods are called on a separate
// goroutine, never while the scheduler lock is held, and must not call back
// into the scheduler synchronously. Returned errors are logged only.
type Sink interface {
	Delivered(ctx context.Context, d Delivery) error
	Reported(ctx context.Context, r Report) error
}

// SinkFuncs adapts plain functions to Sink. Nil fields are no-ops.
type SinkFuncs struct {
	OnDelivered func(ctx context.Context, d Delivery) error
	OnReported  func(ctx context.Context, r Report) error
}

func (f SinkFuncs) Delivered(ctx context.Context, d Delivery) error {
	if f.OnDelivered == nil {
		return nil
	}
	return f.OnDelivered(ctx, d)
}

func (f SinkFuncs) Reported(ctx context.Context, r Report) error {
	if f.OnReported == nil {
		return nil
	}
	return f.OnReported(ctx, r)
}
