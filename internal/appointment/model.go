package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-replication/internal/schedule"
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCanceled  Status = "CANCELED"
	StatusNoShow    Status = "NO_SHOW"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCanceled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCanceled, StatusNoShow},
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCanceled, StatusNoShow:
		return true
	}
	return false
}

// Terminal statuses accept no further transition.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const (
	ConsultationInPerson     = "IN_PERSON"
	ConsultationTelemedicine = "TELEMEDICINE"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Physician struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	WorkStart string // HH:MM
	WorkEnd   string // HH:MM
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Physician) WorkingHours() (schedule.WorkingHours, error) {
	return schedule.ParseWorkingHours(p.WorkStart, p.WorkEnd)
}

// Appointment is the write-side row. Rows written from events received from
// other nodes are replicas and carry the same shape.
type Appointment struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	PhysicianID      uuid.UUID  `json:"physician_id"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	ConsultationType string     `json:"consultation_type"`
	Status           Status     `json:"status"`
	Notes            *string    `json:"notes,omitempty"`
	CancelReason     *string    `json:"cancel_reason,omitempty"`
	RecordID         *uuid.UUID `json:"record_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Replica is the subset of an appointment carried by a domain event.
// An empty Status leaves the stored status untouched.
type Replica struct {
	ID               uuid.UUID
	PatientID        uuid.UUID
	PhysicianID      uuid.UUID
	ScheduledAt      time.Time
	ConsultationType string
	Status           Status
	CancelReason     *string
	At               time.Time
}

type Origin string

const (
	OriginLocal Origin = "local"
	OriginPeer  Origin = "peer"
)
