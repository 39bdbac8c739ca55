package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/alarm-service/internal/model"
)

// OutboxRepository is the subset of the outbox store used by pkg/worker.
type OutboxRepository interface {
	GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
