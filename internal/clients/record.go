package clients

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type RecordRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	PhysicianID   uuid.UUID `json:"physician_id"`
	ScheduledAt   time.Time `json:"scheduled_at"`
}

type RecordClient struct {
	c *caller
}

func NewRecordClient(baseURL string, opts Options, log logrus.FieldLogger) *RecordClient {
	return &RecordClient{c: newCaller(baseURL, opts, log, "record-client")}
}

// CreateRecord opens the medical record for an appointment. It returns
// uuid.Nil when the client is not configured.
func (r *RecordClient) CreateRecord(ctx context.Context, req RecordRequest) (uuid.UUID, error) {
	if !r.c.enabled() {
		return uuid.Nil, nil
	}
	var out struct {
		ID uuid.UUID `json:"id"`
	}
	if err := r.c.do(ctx, "POST", "/internal/records", req, &out); err != nil {
		return uuid.Nil, err
	}
	return out.ID, nil
}
