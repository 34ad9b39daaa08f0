package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/appointment"
	"github.com/hackgods/appointment-replication/internal/schedule"
)

// OriginHeader tells the caller whether a sibling instance served the read.
const OriginHeader = "X-Data-Origin"

type AppointmentService interface {
	Schedule(ctx context.Context, in appointment.ScheduleInput) (*appointment.Appointment, error)
	Update(ctx context.Context, id uuid.UUID, in appointment.UpdateInput) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)
	AttachRecord(ctx context.Context, id uuid.UUID, in appointment.RecordInput) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, appointment.Origin, error)
	AvailableSlots(ctx context.Context, physicianID uuid.UUID, from, to time.Time) ([]schedule.Slot, error)
}

func createAppointmentHandler(svc AppointmentService, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		physicianID, err := uuid.Parse(req.PhysicianID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_physician_id", "physician_id must be a valid UUID")
			return
		}
		if req.ScheduledAt.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_scheduled_at", "scheduled_at is required")
			return
		}

		appt, err := svc.Schedule(r.Context(), appointment.ScheduleInput{
			PatientID:        patientID,
			PhysicianID:      physicianID,
			ScheduledAt:      req.ScheduledAt,
			ConsultationType: req.ConsultationType,
			Notes:            req.Notes,
		})
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, AppointmentResponse{Appointment: appt, Source: appointment.OriginLocal})
	}
}

func getAppointmentHandler(svc AppointmentService, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, origin, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		w.Header().Set(OriginHeader, string(origin))
		writeJSON(w, http.StatusOK, AppointmentResponse{Appointment: appt, Source: origin})
	}
}

func updateAppointmentHandler(svc AppointmentService, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.empty() {
			writeError(w, http.StatusBadRequest, "empty_update", "nothing to update")
			return
		}

		in := appointment.UpdateInput{
			ScheduledAt:      req.ScheduledAt,
			ConsultationType: req.ConsultationType,
			Notes:            req.Notes,
		}
		if req.Status != nil {
			status := appointment.Status(strings.ToUpper(*req.Status))
			in.Status = &status
		}

		appt, err := svc.Update(r.Context(), id, in)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, AppointmentResponse{Appointment: appt, Source: appointment.OriginLocal})
	}
}

func cancelAppointmentHandler(svc AppointmentService, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		// the body is optional
		var req CancelAppointmentRequest
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, strings.TrimSpace(req.Reason))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, AppointmentResponse{Appointment: appt, Source: appointment.OriginLocal})
	}
}

func attachRecordHandler(svc AppointmentService, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req AttachRecordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		in := appointment.RecordInput{Diagnosis: req.Diagnosis, Treatment: req.Treatment, Notes: req.Notes}
		if req.RecordID != "" {
			recordID, err := uuid.Parse(req.RecordID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_record_id", "record_id must be a valid UUID")
				return
			}
			in.RecordID = recordID
		}

		appt, err := svc.AttachRecord(r.Context(), id, in)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, AppointmentResponse{Appointment: appt, Source: appointment.OriginLocal})
	}
}

// availableSlotsHandler accepts from/to as dates (2006-01-02) or RFC3339
// instants. Both default to a one week window starting today.
func availableSlotsHandler(svc AppointmentService, log logrus.FieldLogger, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		physicianID, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		today := now().UTC().Truncate(24 * time.Hour)
		from, err := parseDay(r.URL.Query().Get("from"), today)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", err.Error())
			return
		}
		to, err := parseDay(r.URL.Query().Get("to"), from.AddDate(0, 0, 6))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", err.Error())
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), physicianID, from, to)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, newSlotsResponse(physicianID, from, to, slots))
	}
}

func parseDay(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
