package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Get(ctx context.Context, appointmentID uuid.UUID) (*Projection, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT appointment_id, patient_id, physician_id, scheduled_at, consultation_type, status,
		       record_id, diagnosis, treatment, notes, last_updated
		FROM appointment_projections
		WHERE appointment_id = $1
	`, appointmentID)

	var p Projection
	err := row.Scan(
		&p.AppointmentID,
		&p.PatientID,
		&p.PhysicianID,
		&p.ScheduledAt,
		&p.ConsultationType,
		&p.Status,
		&p.RecordID,
		&p.Diagnosis,
		&p.Treatment,
		&p.Notes,
		&p.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectionNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) Upsert(ctx context.Context, p *Projection) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_projections (
			appointment_id, patient_id, physician_id, scheduled_at, consultation_type, status,
			record_id, diagnosis, treatment, notes, last_updated
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (appointment_id) DO UPDATE SET
			patient_id        = EXCLUDED.patient_id,
			physician_id      = EXCLUDED.physician_id,
			scheduled_at      = EXCLUDED.scheduled_at,
			consultation_type = EXCLUDED.consultation_type,
			status            = EXCLUDED.status,
			record_id         = EXCLUDED.record_id,
			diagnosis         = EXCLUDED.diagnosis,
			treatment         = EXCLUDED.treatment,
			notes             = EXCLUDED.notes,
			last_updated      = EXCLUDED.last_updated
		WHERE appointment_projections.last_updated <= EXCLUDED.last_updated
	`,
		p.AppointmentID,
		p.PatientID,
		p.PhysicianID,
		p.ScheduledAt,
		p.ConsultationType,
		p.Status,
		p.RecordID,
		p.Diagnosis,
		p.Treatment,
		p.Notes,
		p.LastUpdated,
	)
	if err != nil {
		return false, fmt.Errorf("upsert projection: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
