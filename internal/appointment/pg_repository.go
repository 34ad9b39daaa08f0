package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const appointmentColumns = `id, patient_id, physician_id, scheduled_at, consultation_type, status,
	notes, cancel_reason, record_id, created_at, updated_at`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanPhysician(row pgx.Row) (*Physician, error) {
	var p Physician
	err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.WorkStart, &p.WorkEnd, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPhysicianNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PhysicianID,
		&a.ScheduledAt,
		&a.ConsultationType,
		&a.Status,
		&a.Notes,
		&a.CancelReason,
		&a.RecordID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPhysicianByID(ctx context.Context, id uuid.UUID) (*Physician, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, work_start, work_end, created_at, updated_at
		FROM physicians
		WHERE id = $1
	`, id)
	return scanPhysician(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindConflict(ctx context.Context, physicianID, patientID uuid.UUID, at time.Time, exclude uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE scheduled_at = $3
		  AND status <> 'CANCELED'
		  AND (physician_id = $1 OR patient_id = $2)
		  AND id <> $4
		LIMIT 1
	`, physicianID, patientID, at, exclude)
	return scanAppointment(row)
}

func (r *PgRepository) BookedStarts(ctx context.Context, physicianID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_at
		FROM appointments
		WHERE physician_id = $1
		  AND status <> 'CANCELED'
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at
	`, physicianID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list booked starts: %w", err)
	}
	starts, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("list booked starts: %w", err)
	}
	return starts, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, physician_id, scheduled_at, consultation_type, status,
			notes, cancel_reason, record_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, $8, $8)
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.PhysicianID, a.ScheduledAt, a.ConsultationType, a.Status, a.Notes, a.CreatedAt)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, expected Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_at = $2,
		    consultation_type = $3,
		    status = $4,
		    notes = $5,
		    cancel_reason = $6,
		    updated_at = $7
		WHERE id = $1
		  AND status = $8
		RETURNING `+appointmentColumns,
		a.ID, a.ScheduledAt, a.ConsultationType, a.Status, a.Notes, a.CancelReason, a.UpdatedAt, expected)
	return scanAppointment(row)
}

func (r *PgRepository) SetRecord(ctx context.Context, id, recordID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET record_id = $2,
		    updated_at = GREATEST(updated_at, $3)
		WHERE id = $1
	`, id, recordID, at)
	if err != nil {
		return fmt.Errorf("set record: %w", err)
	}
	return nil
}

func (r *PgRepository) UpsertReplica(ctx context.Context, rep Replica) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, physician_id, scheduled_at, consultation_type, status,
			cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, ''), 'SCHEDULED'), $7, $8, $8)
		ON CONFLICT (id) DO UPDATE
		SET patient_id = EXCLUDED.patient_id,
		    physician_id = EXCLUDED.physician_id,
		    scheduled_at = EXCLUDED.scheduled_at,
		    consultation_type = EXCLUDED.consultation_type,
		    status = COALESCE(NULLIF($6, ''), appointments.status),
		    cancel_reason = COALESCE(EXCLUDED.cancel_reason, appointments.cancel_reason),
		    updated_at = EXCLUDED.updated_at
		WHERE appointments.updated_at < EXCLUDED.updated_at
	`, rep.ID, rep.PatientID, rep.PhysicianID, rep.ScheduledAt, rep.ConsultationType, string(rep.Status), rep.CancelReason, rep.At)
	if err != nil {
		return fmt.Errorf("upsert replica: %w", err)
	}
	return nil
}
