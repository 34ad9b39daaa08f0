// Package projection maintains the read side view of appointments. A
// projection is only ever written by the event consumer or the replayer and
// can always be rebuilt from the event store.
package projection

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-replication/internal/events"
)

const StatusCanceled = "CANCELED"

type Projection struct {
	AppointmentID    uuid.UUID  `json:"appointment_id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	PhysicianID      uuid.UUID  `json:"physician_id"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	ConsultationType string     `json:"consultation_type"`
	Status           string     `json:"status"`
	RecordID         *uuid.UUID `json:"record_id,omitempty"`
	Diagnosis        *string    `json:"diagnosis"`
	Treatment        *string    `json:"treatment"`
	Notes            *string    `json:"notes,omitempty"`
	LastUpdated      time.Time  `json:"last_updated"`
}

// Apply folds one event into prev and returns the resulting projection. prev
// is never mutated. ok is false when the event does not describe an
// appointment this build understands, in which case prev is returned as is.
func Apply(prev *Projection, ev events.Event) (_ *Projection, ok bool) {
	switch e := ev.(type) {
	case events.AppointmentCreated:
		next := clone(prev)
		if next == nil {
			next = &Projection{AppointmentID: e.EntityID}
		}
		next.PatientID = e.PatientID
		next.PhysicianID = e.PhysicianID
		next.ScheduledAt = e.ScheduledAt.UTC()
		next.ConsultationType = e.ConsultationType
		next.Status = e.Status
		next.LastUpdated = e.OccurredAt.UTC()
		return next, true

	case events.AppointmentUpdated:
		next := clone(prev)
		if next == nil {
			next = &Projection{AppointmentID: e.EntityID}
		}
		overwriteIdentity(next, e.PatientID, e.PhysicianID, e.ScheduledAt, e.ConsultationType)
		if e.NewStatus != "" {
			next.Status = e.NewStatus
		}
		next.LastUpdated = e.OccurredAt.UTC()
		return next, true

	case events.AppointmentCanceled:
		next := clone(prev)
		if next == nil {
			next = &Projection{AppointmentID: e.EntityID}
		}
		overwriteIdentity(next, e.PatientID, e.PhysicianID, e.ScheduledAt, e.ConsultationType)
		next.Status = StatusCanceled
		next.Notes = appendMarker(next.Notes, cancelMarker(e))
		next.LastUpdated = e.OccurredAt.UTC()
		return next, true

	case events.RecordCreated:
		next := clone(prev)
		if next == nil {
			next = &Projection{AppointmentID: e.EntityID}
		}
		overwriteIdentity(next, e.PatientID, e.PhysicianID, time.Time{}, "")
		recordID := e.RecordID
		next.RecordID = &recordID
		next.Diagnosis = nonEmpty(e.Diagnosis, next.Diagnosis)
		next.Treatment = nonEmpty(e.Treatment, next.Treatment)
		if e.Notes != "" {
			next.Notes = appendMarker(next.Notes, e.Notes)
		}
		next.LastUpdated = e.OccurredAt.UTC()
		return next, true
	}

	return prev, false
}

func clone(p *Projection) *Projection {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func overwriteIdentity(p *Projection, patientID, physicianID uuid.UUID, scheduledAt time.Time, consultationType string) {
	if patientID != uuid.Nil {
		p.PatientID = patientID
	}
	if physicianID != uuid.Nil {
		p.PhysicianID = physicianID
	}
	if !scheduledAt.IsZero() {
		p.ScheduledAt = scheduledAt.UTC()
	}
	if consultationType != "" {
		p.ConsultationType = consultationType
	}
}

func nonEmpty(v string, fallback *string) *string {
	if v == "" {
		return fallback
	}
	return &v
}

func cancelMarker(e events.AppointmentCanceled) string {
	marker := fmt.Sprintf("[CANCELED %s]", e.OccurredAt.UTC().Format(time.RFC3339))
	if e.Reason != "" {
		marker += " " + e.Reason
	}
	return marker
}

// appendMarker adds line to notes unless it is already present, which keeps
// redelivered cancellations from stacking duplicate markers.
func appendMarker(notes *string, line string) *string {
	if notes == nil || *notes == "" {
		return &line
	}
	for _, existing := range strings.Split(*notes, "\n") {
		if existing == line {
			return notes
		}
	}
	joined := *notes + "\n" + line
	return &joined
}
