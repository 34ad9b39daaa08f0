package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/appointment"
	"github.com/hackgods/appointment-replication/internal/clients"
	"github.com/hackgods/appointment-replication/internal/logger"
	"github.com/hackgods/appointment-replication/internal/projection"
	"github.com/hackgods/appointment-replication/internal/schedule"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

var ruleViolations = []error{
	schedule.ErrSundayClosed,
	schedule.ErrSaturdayAfternoon,
	schedule.ErrOutsideBusinessHours,
	schedule.ErrSlotGranularity,
	schedule.ErrInPast,
	schedule.ErrBeyondHorizon,
	schedule.ErrOutsideWorkingHours,
}

func isRuleViolation(err error) bool {
	for _, target := range ruleViolations {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// handleServiceError maps domain errors onto HTTP. Anything unrecognized is
// logged and reported as a 500.
func handleServiceError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrPhysicianNotFound):
		writeError(w, http.StatusNotFound, "physician_not_found", err.Error())
	case errors.Is(err, projection.ErrProjectionNotFound):
		writeError(w, http.StatusNotFound, "projection_not_found", err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "appointment_conflict", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", err.Error())
	case errors.Is(err, appointment.ErrStaleAppointment):
		writeError(w, http.StatusConflict, "stale_appointment", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case isRuleViolation(err):
		writeError(w, http.StatusUnprocessableEntity, "invalid_appointment_time", err.Error())
	case errors.Is(err, appointment.ErrInvalidInput):
		writeError(w, http.StatusUnprocessableEntity, "invalid_input", err.Error())
	case errors.Is(err, clients.ErrUnauthorized):
		writeError(w, http.StatusBadGateway, "upstream_unauthorized", err.Error())
	case errors.Is(err, clients.ErrRejected):
		writeError(w, http.StatusBadGateway, "upstream_rejected", err.Error())
	case errors.Is(err, clients.ErrTransient), errors.Is(err, clients.ErrNotFound):
		writeError(w, http.StatusBadGateway, "upstream_unavailable", err.Error())
	default:
		logger.FromContext(r.Context(), log).WithError(err).
			WithField("path", r.URL.Path).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
