package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-replication/internal/appointment"
	"github.com/hackgods/appointment-replication/internal/schedule"
)

type CreateAppointmentRequest struct {
	PatientID        string    `json:"patient_id"`
	PhysicianID      string    `json:"physician_id"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	ConsultationType string    `json:"consultation_type"`
	Notes            *string   `json:"notes,omitempty"`
}

type UpdateAppointmentRequest struct {
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	ConsultationType *string    `json:"consultation_type,omitempty"`
	Status           *string    `json:"status,omitempty"`
	Notes            *string    `json:"notes,omitempty"`
}

func (r UpdateAppointmentRequest) empty() bool {
	return r.ScheduledAt == nil && r.ConsultationType == nil && r.Status == nil && r.Notes == nil
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type AttachRecordRequest struct {
	RecordID  string `json:"record_id,omitempty"`
	Diagnosis string `json:"diagnosis"`
	Treatment string `json:"treatment"`
	Notes     string `json:"notes"`
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type SlotsResponse struct {
	PhysicianID uuid.UUID      `json:"physician_id"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	Slots       []SlotResponse `json:"slots"`
}

func newSlotsResponse(physicianID uuid.UUID, from, to time.Time, slots []schedule.Slot) SlotsResponse {
	out := SlotsResponse{PhysicianID: physicianID, From: from, To: to, Slots: make([]SlotResponse, 0, len(slots))}
	for _, s := range slots {
		out.Slots = append(out.Slots, SlotResponse{Start: s.Start, End: s.End})
	}
	return out
}

// AppointmentResponse is the public view; Source tells a client whether a
// sibling instance answered.
type AppointmentResponse struct {
	*appointment.Appointment
	Source appointment.Origin `json:"source"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
