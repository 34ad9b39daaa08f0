package appointment

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/events"
	"github.com/hackgods/appointment-replication/internal/logger"
)

func createdEvent(a *Appointment) events.AppointmentCreated {
	return events.AppointmentCreated{
		Meta:             events.NewMeta(a.ID, a.UpdatedAt),
		PatientID:        a.PatientID,
		PhysicianID:      a.PhysicianID,
		ScheduledAt:      a.ScheduledAt,
		ConsultationType: a.ConsultationType,
		Status:           string(a.Status),
	}
}

func updatedEvent(a *Appointment, previous Status) events.AppointmentUpdated {
	return events.AppointmentUpdated{
		Meta:             events.NewMeta(a.ID, a.UpdatedAt),
		PatientID:        a.PatientID,
		PhysicianID:      a.PhysicianID,
		ScheduledAt:      a.ScheduledAt,
		ConsultationType: a.ConsultationType,
		PreviousStatus:   string(previous),
		NewStatus:        string(a.Status),
	}
}

func canceledEvent(a *Appointment, reason string) events.AppointmentCanceled {
	return events.AppointmentCanceled{
		Meta:             events.NewMeta(a.ID, a.UpdatedAt),
		PatientID:        a.PatientID,
		PhysicianID:      a.PhysicianID,
		ScheduledAt:      a.ScheduledAt,
		ConsultationType: a.ConsultationType,
		Reason:           reason,
	}
}

// ReplicaWriter keeps the local appointments table in step with events from
// any node, so later reads are served without a peer hop. A row is only
// overwritten by an event newer than its updated_at.
type ReplicaWriter struct {
	repo Repository
	log  logrus.FieldLogger
}

func NewReplicaWriter(repo Repository, log logrus.FieldLogger) *ReplicaWriter {
	return &ReplicaWriter{repo: repo, log: log.WithField("component", "appointment-replica")}
}

func (w *ReplicaWriter) ApplyReplica(ctx context.Context, ev events.Event) error {
	var rep Replica
	switch e := ev.(type) {
	case events.AppointmentCreated:
		rep = Replica{
			ID:               e.EntityID,
			PatientID:        e.PatientID,
			PhysicianID:      e.PhysicianID,
			ScheduledAt:      e.ScheduledAt,
			ConsultationType: e.ConsultationType,
			Status:           Status(e.Status),
			At:               e.OccurredAt,
		}
	case events.AppointmentUpdated:
		rep = Replica{
			ID:               e.EntityID,
			PatientID:        e.PatientID,
			PhysicianID:      e.PhysicianID,
			ScheduledAt:      e.ScheduledAt,
			ConsultationType: e.ConsultationType,
			Status:           Status(e.NewStatus),
			At:               e.OccurredAt,
		}
	case events.AppointmentCanceled:
		rep = Replica{
			ID:               e.EntityID,
			PatientID:        e.PatientID,
			PhysicianID:      e.PhysicianID,
			ScheduledAt:      e.ScheduledAt,
			ConsultationType: e.ConsultationType,
			Status:           StatusCanceled,
			At:               e.OccurredAt,
		}
		if e.Reason != "" {
			rep.CancelReason = &e.Reason
		}
	case events.RecordCreated:
		return w.repo.SetRecord(ctx, e.EntityID, e.RecordID, e.OccurredAt)
	default:
		logger.FromContext(ctx, w.log).WithField("event_type", ev.Type()).Debug("no replica change for event")
		return nil
	}
	return w.repo.UpsertReplica(ctx, rep)
}
