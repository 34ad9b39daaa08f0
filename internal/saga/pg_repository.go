package saga

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Insert(ctx context.Context, ev *Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO saga_events (id, entity_id, step_type, payload, correlation_id, status, occurred_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, ev.ID, ev.EntityID, ev.StepType, []byte(ev.Payload), ev.CorrelationID, ev.Status, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert saga event: %w", err)
	}
	return nil
}

func (r *PgRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, entity_id, step_type, payload, COALESCE(correlation_id, ''), status, occurred_at
		FROM saga_events
		WHERE entity_id = $1
		ORDER BY occurred_at ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list saga events: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var (
			ev      Event
			payload []byte
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.EntityID,
			&ev.StepType,
			&payload,
			&ev.CorrelationID,
			&ev.Status,
			&ev.OccurredAt,
		); err != nil {
			return nil, err
		}
		ev.Payload = payload
		result = append(result, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) Transition(ctx context.Context, ids []uuid.UUID, from, to Status) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE saga_events
		SET status = $3
		WHERE id = ANY($1)
		  AND status = $2
	`, ids, from, to)
	if err != nil {
		return 0, fmt.Errorf("transition saga events: %w", err)
	}
	return tag.RowsAffected(), nil
}
