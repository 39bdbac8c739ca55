package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/alarm-service/internal/model"
)

// All repository interfaces in one file
type (
	// AlarmRepository persists the scheduler's alarm set between restarts.
	// Save replaces the stored set as a whole.
	AlarmRepository interface {
		Save(ctx context.Context, alarms []model.Alarm) error
		Load(ctx context.Context) ([]model.Alarm, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		CountPending(ctx context.Context) (int64, error)
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
