package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/internal/repository"
)

type alarmRepository struct {
	BaseRepository
}

func NewAlarmRepository(base BaseRepository) repository.AlarmRepository {
	return &alarmRepository{base}
}

// Save replaces the stored alarm set in one transaction.
func (r *alarmRepository) Save(ctx context.Context, alarms []model.Alarm) (err error) {
	start := time.Now()
	defer func() { r.observe("save_alarms", start, err) }()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM alarms`); err != nil {
			return fmt.Errorf("failed to clear alarms: %w", err)
		}

		query := `
			INSERT INTO alarms (
				id, title, description, scheduled_at, kind,
				priority, repeat_rule, delivered, delivered_at
			) VALUES (
				:id, :title, :description, :scheduled_at, :kind,
				:priority, :repeat_rule, :delivered, :delivered_at
			)
		`
		for i := range alarms {
			if _, err := tx.NamedExecContext(ctx, query, &alarms[i]); err != nil {
				return fmt.Errorf("failed to insert alarm %s: %w", alarms[i].ID, err)
			}
		}
		return nil
	})
}

func (r *alarmRepository) Load(ctx context.Context) (alarms []model.Alarm, err error) {
	start := time.Now()
	defer func() { r.observe("load_alarms", start, err) }()

	query := `
		SELECT id, title, description, scheduled_at, kind,
			priority, repeat_rule, delivered, delivered_at
		FROM alarms
		ORDER BY scheduled_at ASC, id ASC
	`
	if err = r.db.SelectContext(ctx, &alarms, query); err != nil {
		return nil, fmt.Errorf("failed to load alarms: %w", err)
	}
	for i := range alarms {
		alarms[i].ScheduledAt = alarms[i].ScheduledAt.UTC()
		if alarms[i].DeliveredAt != nil {
			t := alarms[i].DeliveredAt.UTC()
			alarms[i].DeliveredAt = &t
		}
	}
	return alarms, nil
}
