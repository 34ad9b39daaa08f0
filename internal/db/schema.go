package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Each statement is idempotent so Migrate can run on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		id         uuid PRIMARY KEY,
		name       text NOT NULL,
		email      text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS physicians (
		id         uuid PRIMARY KEY,
		name       text NOT NULL,
		specialty  text,
		work_start text NOT NULL DEFAULT '08:00',
		work_end   text NOT NULL DEFAULT '18:00',
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	// no foreign keys: replicas may reference patients this node never saw
	`CREATE TABLE IF NOT EXISTS appointments (
		id                uuid PRIMARY KEY,
		patient_id        uuid NOT NULL,
		physician_id      uuid NOT NULL,
		scheduled_at      timestamptz NOT NULL,
		consultation_type text NOT NULL,
		status            text NOT NULL,
		notes             text,
		cancel_reason     text,
		record_id         uuid,
		created_at        timestamptz NOT NULL,
		updated_at        timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS appointments_physician_start_idx
		ON appointments (physician_id, scheduled_at) WHERE status <> 'CANCELED'`,
	`CREATE INDEX IF NOT EXISTS appointments_patient_start_idx
		ON appointments (patient_id, scheduled_at) WHERE status <> 'CANCELED'`,
	`CREATE TABLE IF NOT EXISTS event_store (
		seq            bigserial PRIMARY KEY,
		event_id       uuid NOT NULL UNIQUE,
		entity_id      uuid NOT NULL,
		event_type     text NOT NULL,
		payload        bytea NOT NULL,
		correlation_id text,
		occurred_at    timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS event_store_entity_idx ON event_store (entity_id, occurred_at, seq)`,
	`CREATE TABLE IF NOT EXISTS appointment_projections (
		appointment_id    uuid PRIMARY KEY,
		patient_id        uuid NOT NULL,
		physician_id      uuid NOT NULL,
		scheduled_at      timestamptz NOT NULL,
		consultation_type text NOT NULL,
		status            text NOT NULL,
		record_id         uuid,
		diagnosis         text,
		treatment         text,
		notes             text,
		last_updated      timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS saga_events (
		id             uuid PRIMARY KEY,
		entity_id      uuid NOT NULL,
		step_type      text NOT NULL,
		payload        jsonb NOT NULL DEFAULT '{}',
		correlation_id text,
		status         text NOT NULL,
		occurred_at    timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS saga_events_entity_idx ON saga_events (entity_id, occurred_at)`,
}

// Migrate creates every table the service needs.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
