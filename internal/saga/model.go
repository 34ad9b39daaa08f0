// Package saga keeps the audit log of multi-service writes. Each step of a
// distributed write is one row; the coordinator moves open steps to a
// terminal status once the write completes or is compensated.
package saga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusCompensated Status = "COMPENSATED"
)

// Step tags used by the appointment write path. StepType is free-form, other
// callers may record their own.
const (
	StepAppointmentCreated    = "APPOINTMENT_CREATED"
	StepAuthRegistered        = "AUTH_REGISTERED"
	StepRecordCreated         = "RECORD_CREATED"
	StepCompensationTriggered = "COMPENSATION_TRIGGERED"
)

type Event struct {
	ID            uuid.UUID       `json:"id"`
	EntityID      uuid.UUID       `json:"entity_id"`
	StepType      string          `json:"step_type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Status        Status          `json:"status"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type Repository interface {
	Insert(ctx context.Context, ev *Event) error
	// ListByEntity returns steps ordered by occurred_at.
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]Event, error)
	// Transition moves the given rows from one status to another and returns
	// how many rows actually changed.
	Transition(ctx context.Context, ids []uuid.UUID, from, to Status) (int64, error)
}
