package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) (err error) {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	start := time.Now()
	defer func() { r.observe("create_outbox_event", start, err) }()

	query := `
		INSERT INTO outbox_events (
			id, event_type, payload, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`
	now := time.Now().UTC()
	event.ID = uuid.New()
	event.CreatedAt = now
	event.UpdatedAt = now
	event.Status = model.OutboxStatusPending

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.Payload,
		event.Status,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// claimLease is how long a claimed event stays invisible to other
// processors. A processor that dies mid-batch loses its claim after it.
const claimLease = 5 * time.Minute

// GetPendingEventsWithLock claims due pending and retry events for this
// processor. Rows are selected with FOR UPDATE SKIP LOCKED and moved to
// processing in the same transaction, so concurrent processors never claim
// the same event.
func (r *outboxRepository) GetPendingEventsWithLock(ctx context.Context, limit int) (events []*model.OutboxEvent, err error) {
	start := time.Now()
	defer func() { r.observe("get_pending_events", start, err) }()

	selectQuery := `
		SELECT id, event_type, payload, status, error_message, retry_count,
			retry_at, created_at, processed_at, updated_at
		FROM outbox_events
		WHERE (
			status IN ('pending', 'retry')
			AND (retry_at IS NULL OR retry_at <= NOW())
		) OR (
			status = 'processing' AND updated_at < $2
		)
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	claimQuery := `
		UPDATE outbox_events
		SET status = 'processing', updated_at = NOW()
		WHERE id = ANY($1::uuid[])
	`

	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var claimed []*model.OutboxEvent
		staleBefore := time.Now().UTC().Add(-claimLease)
		if err := tx.SelectContext(ctx, &claimed, selectQuery, limit, staleBefore); err != nil {
			return fmt.Errorf("failed to get pending events: %w", err)
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, len(claimed))
		for i, evt := range claimed {
			ids[i] = evt.ID.String()
		}
		if _, err := tx.ExecContext(ctx, claimQuery, pq.Array(ids)); err != nil {
			return fmt.Errorf("failed to claim pending events: %w", err)
		}
		for _, evt := range claimed {
			evt.Status = model.OutboxStatusProcessing
		}
		events = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) (err error) {
	start := time.Now()
	defer func() { r.observe("update_outbox_status", start, err) }()

	query := `
		UPDATE outbox_events
		SET status = $1,
			error_message = $2,
			retry_at = $3,
			retry_count = CASE WHEN $1 = 'retry' THEN retry_count + 1 ELSE retry_count END,
			processed_at = CASE WHEN $1 = 'processed' THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $4
	`
	_, err = r.db.ExecContext(ctx, query, string(status), errorMessage, retryAt, id)
	if err != nil {
		return fmt.Errorf("failed to update outbox event %s: %w", id, err)
	}
	return nil
}

func (r *outboxRepository) CountPending(ctx context.Context) (n int64, err error) {
	start := time.Now()
	defer func() { r.observe("count_pending_events", start, err) }()

	err = r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox_events WHERE status IN ('pending', 'retry', 'processing')`)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return n, nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (n int64, err error) {
	start := time.Now()
	defer func() { r.observe("delete_processed_events", start, err) }()

	query := `
		DELETE FROM outbox_events
		WHERE status = 'processed'
		AND processed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}

	return result.RowsAffected()
}
