package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrPhysicianNotFound   = errors.New("physician not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPhysicianByID(ctx context.Context, id uuid.UUID) (*Physician, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// FindConflict returns a non-canceled appointment, other than exclude,
	// starting at at for the physician or the patient. ErrAppointmentNotFound
	// when there is none.
	FindConflict(ctx context.Context, physicianID, patientID uuid.UUID, at time.Time, exclude uuid.UUID) (*Appointment, error)
	// BookedStarts lists start instants of the physician's non-canceled
	// appointments in [from, to).
	BookedStarts(ctx context.Context, physicianID uuid.UUID, from, to time.Time) ([]time.Time, error)

	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	// UpdateAppointment writes a only while the stored status still equals
	// expected; ErrAppointmentNotFound otherwise.
	UpdateAppointment(ctx context.Context, a *Appointment, expected Status) (*Appointment, error)
	SetRecord(ctx context.Context, id, recordID uuid.UUID, at time.Time) error

	// UpsertReplica applies r only when r.At is newer than the stored row.
	UpsertReplica(ctx context.Context, r Replica) error
}
