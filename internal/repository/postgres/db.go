package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/jwalitptl/alarm-service/internal/config"
)

func NewDB(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS alarms (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	scheduled_at  TIMESTAMPTZ NOT NULL,
	kind          TEXT NOT NULL DEFAULT 'personal',
	priority      TEXT NOT NULL DEFAULT 'normal',
	repeat_rule   TEXT NOT NULL DEFAULT 'none',
	delivered     BOOLEAN NOT NULL DEFAULT FALSE,
	delivered_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id            UUID PRIMARY KEY,
	event_type    TEXT NOT NULL,
	payload       JSONB NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT,
	retry_count   INT NOT NULL DEFAULT 0,
	retry_at      TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_events_status ON outbox_events (status, created_at);
`

// Migrate creates the tables used by the repositories if they are missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
