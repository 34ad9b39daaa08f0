package eventstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Append(ctx context.Context, e Entry) (bool, error) {
	eventID := e.EventID
	if eventID == uuid.Nil {
		eventID = uuid.New()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO event_store (event_id, entity_id, event_type, payload, correlation_id, occurred_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, e.EntityID, e.EventType, e.Payload, e.CorrelationID, e.OccurredAt)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id, entity_id, event_type, payload, COALESCE(correlation_id, ''), occurred_at
		FROM event_store
		WHERE entity_id = $1
		ORDER BY occurred_at ASC, seq ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *PgStore) EntityIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT entity_id
		FROM event_store
		ORDER BY entity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list entity ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(
		&e.Seq,
		&e.EventID,
		&e.EntityID,
		&e.EventType,
		&e.Payload,
		&e.CorrelationID,
		&e.OccurredAt,
	)
	return e, err
}
