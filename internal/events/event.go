// Package events defines the appointment domain events exchanged between
// service instances, their JSON wire form and the routing keys they travel on.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAppointmentCreated  Type = "APPOINTMENT_CREATED"
	TypeAppointmentUpdated  Type = "APPOINTMENT_UPDATED"
	TypeAppointmentCanceled Type = "APPOINTMENT_CANCELED"
	TypeRecordCreated       Type = "APPOINTMENT_RECORD_CREATED"
)

// Event is a closed set: AppointmentCreated, AppointmentUpdated,
// AppointmentCanceled, RecordCreated and Unknown for tags this build does not
// recognise. Events are immutable once built.
type Event interface {
	Type() Type
	Metadata() Meta
	sealed()
}

// Meta is shared by every variant. EntityID is always the appointment id.
type Meta struct {
	EventID    uuid.UUID `json:"eventId"`
	EntityID   uuid.UUID `json:"entityId"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (m Meta) Metadata() Meta { return m }

// NewMeta stamps a fresh event id and the occurrence time in UTC.
func NewMeta(entityID uuid.UUID, occurredAt time.Time) Meta {
	return Meta{
		EventID:    uuid.New(),
		EntityID:   entityID,
		OccurredAt: occurredAt.UTC(),
	}
}

type AppointmentCreated struct {
	Meta
	PatientID        uuid.UUID `json:"patientId"`
	PhysicianID      uuid.UUID `json:"physicianId"`
	ScheduledAt      time.Time `json:"scheduledAt"`
	ConsultationType string    `json:"consultationType"`
	Status           string    `json:"status"`
}

type AppointmentUpdated struct {
	Meta
	PatientID        uuid.UUID `json:"patientId"`
	PhysicianID      uuid.UUID `json:"physicianId"`
	ScheduledAt      time.Time `json:"scheduledAt"`
	ConsultationType string    `json:"consultationType"`
	PreviousStatus   string    `json:"previousStatus,omitempty"`
	NewStatus        string    `json:"newStatus,omitempty"`
}

type AppointmentCanceled struct {
	Meta
	PatientID        uuid.UUID `json:"patientId"`
	PhysicianID      uuid.UUID `json:"physicianId"`
	ScheduledAt      time.Time `json:"scheduledAt"`
	ConsultationType string    `json:"consultationType"`
	Reason           string    `json:"reason,omitempty"`
}

// RecordCreated attaches the clinical outcome of an appointment.
type RecordCreated struct {
	Meta
	RecordID    uuid.UUID `json:"recordId"`
	PatientID   uuid.UUID `json:"patientId"`
	PhysicianID uuid.UUID `json:"physicianId"`
	Diagnosis   string    `json:"diagnosis,omitempty"`
	Treatment   string    `json:"treatment,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// Unknown preserves an event whose tag is not recognised so callers can log
// and skip it instead of failing.
type Unknown struct {
	Meta
	Tag string          `json:"-"`
	Raw json.RawMessage `json:"-"`
}

func (AppointmentCreated) Type() Type  { return TypeAppointmentCreated }
func (AppointmentUpdated) Type() Type  { return TypeAppointmentUpdated }
func (AppointmentCanceled) Type() Type { return TypeAppointmentCanceled }
func (RecordCreated) Type() Type       { return TypeRecordCreated }
func (u Unknown) Type() Type           { return Type(u.Tag) }

func (AppointmentCreated) sealed()  {}
func (AppointmentUpdated) sealed()  {}
func (AppointmentCanceled) sealed() {}
func (RecordCreated) sealed()       {}
func (Unknown) sealed()             {}
