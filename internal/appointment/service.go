package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/clients"
	"github.com/hackgods/appointment-replication/internal/correlation"
	"github.com/hackgods/appointment-replication/internal/events"
	"github.com/hackgods/appointment-replication/internal/logger"
	redisclient "github.com/hackgods/appointment-replication/internal/redis"
	"github.com/hackgods/appointment-replication/internal/saga"
	"github.com/hackgods/appointment-replication/internal/schedule"
)

const peerResource = "appointments"

var (
	ErrConflict                = errors.New("physician or patient already has an appointment at that time")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrStaleAppointment        = errors.New("appointment was modified concurrently, please retry")
	ErrInvalidInput            = errors.New("invalid appointment input")
)

// Publisher announces events to other services. It reports delivery but
// never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) bool
}

// Projector applies an event to this node's event store and read model.
type Projector interface {
	ApplyLocal(ctx context.Context, ev events.Event) error
}

type SagaLog interface {
	RecordStep(ctx context.Context, entityID uuid.UUID, stepType string, payload any, correlationID string, isCompensation bool)
	Complete(ctx context.Context, entityID uuid.UUID, correlationID string) (int, error)
	Compensate(ctx context.Context, entityID uuid.UUID, reason, correlationID string) (int, error)
}

type AuthService interface {
	RegisterPatient(ctx context.Context, acct clients.PatientAccount) (clients.Registration, error)
	DeletePatient(ctx context.Context, userID string) error
}

type RecordService interface {
	CreateRecord(ctx context.Context, req clients.RecordRequest) (uuid.UUID, error)
}

type PeerResolver interface {
	Resolve(ctx context.Context, resource, id string) ([]byte, error)
}

// Deps wires the service. Repo, Locker, Saga and Calculator are required;
// the rest may be nil and the matching step is then skipped.
type Deps struct {
	Repo       Repository
	Locker     redisclient.Locker
	Saga       SagaLog
	Calculator *schedule.Calculator
	Publisher  Publisher
	Projector  Projector
	Auth       AuthService
	Records    RecordService
	Peers      PeerResolver
	Log        logrus.FieldLogger
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	saga      SagaLog
	calc      *schedule.Calculator
	rules     schedule.Rules
	publisher Publisher
	projector Projector
	auth      AuthService
	records   RecordService
	peers     PeerResolver
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		repo:      d.Repo,
		locker:    d.Locker,
		saga:      d.Saga,
		calc:      d.Calculator,
		rules:     d.Calculator.Rules(),
		publisher: d.Publisher,
		projector: d.Projector,
		auth:      d.Auth,
		records:   d.Records,
		peers:     d.Peers,
		log:       log.WithField("component", "appointment-service"),
		now:       time.Now,
	}
}

// clock is truncated to what Postgres stores so that an event's occurredAt
// and the row's updated_at compare equal.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

type ScheduleInput struct {
	PatientID        uuid.UUID
	PhysicianID      uuid.UUID
	ScheduledAt      time.Time
	ConsultationType string
	Notes            *string
}

// Schedule books an appointment as a saga: register the patient's login with
// the auth service, create the appointment under the slot lock, then open
// the medical record. A failing step undoes the earlier ones that have an
// inverse and marks the saga compensated.
func (s *Service) Schedule(ctx context.Context, in ScheduleInput) (*Appointment, error) {
	ctx, corrID, _ := correlation.Ensure(ctx)
	at := in.ScheduledAt.UTC()

	ctype, err := consultationType(in.ConsultationType)
	if err != nil {
		return nil, err
	}
	if err := s.rules.ValidateBooking(at, s.now()); err != nil {
		return nil, err
	}

	patient, err := s.repo.GetPatientByID(ctx, in.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	physician, err := s.repo.GetPhysicianByID(ctx, in.PhysicianID)
	if err != nil {
		if errors.Is(err, ErrPhysicianNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load physician: %w", err)
	}
	wh, err := physician.WorkingHours()
	if err != nil {
		return nil, fmt.Errorf("physician %s: %w", physician.ID, err)
	}
	if err := s.rules.ValidateWorkingHours(s.rules.Clamp(wh), at); err != nil {
		return nil, err
	}

	id := uuid.New()
	log := logger.FromContext(ctx, s.log).WithField("appointment_id", id)
	var undo rollback

	// 1. patient login
	if s.auth != nil {
		acct := clients.PatientAccount{PatientID: patient.ID, Name: patient.Name}
		if patient.Email != nil {
			acct.Email = *patient.Email
		}
		reg, err := s.auth.RegisterPatient(ctx, acct)
		if err != nil {
			s.compensate(ctx, id, corrID, err, undo)
			return nil, fmt.Errorf("register patient: %w", err)
		}
		if reg.Created {
			undo.userID = reg.UserID
		}
		s.saga.RecordStep(ctx, id, saga.StepAuthRegistered, reg, corrID, false)
	}

	// 2. the appointment itself
	now := s.clock()
	appt := &Appointment{
		ID:               id,
		PatientID:        patient.ID,
		PhysicianID:      physician.ID,
		ScheduledAt:      at,
		ConsultationType: ctype,
		Status:           StatusScheduled,
		Notes:            in.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	created, err := s.createLocked(ctx, appt)
	if err != nil {
		s.compensate(ctx, id, corrID, err, undo)
		return nil, err
	}
	undo.appointment = created
	s.saga.RecordStep(ctx, id, saga.StepAppointmentCreated, map[string]any{
		"physician_id": created.PhysicianID,
		"scheduled_at": created.ScheduledAt,
	}, corrID, false)
	s.emit(ctx, createdEvent(created))

	// 3. medical record
	if s.records != nil {
		recordID, err := s.records.CreateRecord(ctx, clients.RecordRequest{
			AppointmentID: created.ID,
			PatientID:     created.PatientID,
			PhysicianID:   created.PhysicianID,
			ScheduledAt:   created.ScheduledAt,
		})
		if err != nil {
			s.compensate(ctx, id, corrID, err, undo)
			return nil, fmt.Errorf("create record: %w", err)
		}
		if recordID != uuid.Nil {
			linkedAt := s.clock()
			if err := s.repo.SetRecord(ctx, created.ID, recordID, linkedAt); err != nil {
				log.WithError(err).Warn("failed to link record to appointment")
			} else {
				created.RecordID = &recordID
				created.UpdatedAt = linkedAt
				s.emit(ctx, events.RecordCreated{
					Meta:        events.NewMeta(created.ID, linkedAt),
					RecordID:    recordID,
					PatientID:   created.PatientID,
					PhysicianID: created.PhysicianID,
				})
			}
		}
		s.saga.RecordStep(ctx, id, saga.StepRecordCreated, map[string]any{"record_id": recordID}, corrID, false)
	}

	if _, err := s.saga.Complete(ctx, id, corrID); err != nil {
		log.WithError(err).Warn("failed to close saga")
	}
	log.WithFields(logrus.Fields{
		"physician_id": created.PhysicianID,
		"scheduled_at": created.ScheduledAt,
	}).Info("appointment scheduled")
	return created, nil
}

// createLocked inserts a inside the slot lock after re-checking conflicts.
func (s *Service) createLocked(ctx context.Context, a *Appointment) (*Appointment, error) {
	var created *Appointment
	err := s.locker.WithSlotLock(ctx, a.PhysicianID, a.ScheduledAt, func(lockCtx context.Context) error {
		if err := s.checkConflict(lockCtx, a); err != nil {
			return err
		}
		out, err := s.repo.CreateAppointment(lockCtx, a)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		created = out
		return nil
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return nil, ErrSlotBeingBooked
	}
	return created, err
}

func (s *Service) checkConflict(ctx context.Context, a *Appointment) error {
	existing, err := s.repo.FindConflict(ctx, a.PhysicianID, a.PatientID, a.ScheduledAt, a.ID)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return fmt.Errorf("check conflict: %w", err)
	}
	if existing != nil {
		return ErrConflict
	}
	return nil
}

type rollback struct {
	userID      string
	appointment *Appointment
}

// compensate undoes the completed steps that have an inverse and closes the
// saga. It runs detached from ctx so a client disconnect cannot stop it.
func (s *Service) compensate(ctx context.Context, id uuid.UUID, corrID string, cause error, undo rollback) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	log := logger.FromContext(ctx, s.log).WithField("appointment_id", id).WithError(cause)

	if a := undo.appointment; a != nil {
		reason := "saga compensation: " + cause.Error()
		if _, err := s.cancel(ctx, a, reason); err != nil {
			log.WithField("undo_error", err.Error()).Error("failed to cancel appointment during compensation")
		}
	}
	if undo.userID != "" && s.auth != nil {
		if err := s.auth.DeletePatient(ctx, undo.userID); err != nil {
			log.WithField("undo_error", err.Error()).Error("failed to delete patient login during compensation")
		}
	}

	if _, err := s.saga.Compensate(ctx, id, cause.Error(), corrID); err != nil {
		log.WithField("undo_error", err.Error()).Warn("failed to mark saga compensated")
	}
	log.Warn("appointment saga compensated")
}

type UpdateInput struct {
	ScheduledAt      *time.Time
	ConsultationType *string
	Status           *Status
	Notes            *string
}

// Update reschedules or changes the status of a local appointment and
// publishes the change. Moving to CANCELED goes through Cancel.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Appointment, error) {
	ctx, _, _ = correlation.Ensure(ctx)

	if in.Status != nil && *in.Status == StatusCanceled {
		return s.Cancel(ctx, id, "")
	}

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, ErrInvalidStatusTransition
	}

	next := *current
	if in.Status != nil && *in.Status != current.Status {
		if !in.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *in.Status)
		}
		if !CanTransition(current.Status, *in.Status) {
			return nil, ErrInvalidStatusTransition
		}
		next.Status = *in.Status
	}
	if in.ConsultationType != nil {
		ctype, err := consultationType(*in.ConsultationType)
		if err != nil {
			return nil, err
		}
		next.ConsultationType = ctype
	}
	if in.Notes != nil {
		next.Notes = in.Notes
	}
	next.UpdatedAt = s.clock()

	var updated *Appointment
	if in.ScheduledAt != nil && !in.ScheduledAt.Equal(current.ScheduledAt) {
		next.ScheduledAt = in.ScheduledAt.UTC()
		updated, err = s.reschedule(ctx, &next, current.Status)
	} else {
		updated, err = s.write(ctx, &next, current.Status)
	}
	if err != nil {
		return nil, err
	}

	s.emit(ctx, updatedEvent(updated, current.Status))
	logger.FromContext(ctx, s.log).WithFields(logrus.Fields{
		"appointment_id":  id,
		"previous_status": current.Status,
		"new_status":      updated.Status,
	}).Info("appointment updated")
	return updated, nil
}

func (s *Service) reschedule(ctx context.Context, next *Appointment, expected Status) (*Appointment, error) {
	if err := s.rules.ValidateBooking(next.ScheduledAt, s.now()); err != nil {
		return nil, err
	}
	physician, err := s.repo.GetPhysicianByID(ctx, next.PhysicianID)
	if err != nil {
		return nil, fmt.Errorf("load physician: %w", err)
	}
	wh, err := physician.WorkingHours()
	if err != nil {
		return nil, fmt.Errorf("physician %s: %w", physician.ID, err)
	}
	if err := s.rules.ValidateWorkingHours(s.rules.Clamp(wh), next.ScheduledAt); err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.locker.WithSlotLock(ctx, next.PhysicianID, next.ScheduledAt, func(lockCtx context.Context) error {
		if err := s.checkConflict(lockCtx, next); err != nil {
			return err
		}
		out, err := s.write(lockCtx, next, expected)
		updated = out
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return nil, ErrSlotBeingBooked
	}
	return updated, err
}

func (s *Service) write(ctx context.Context, next *Appointment, expected Status) (*Appointment, error) {
	out, err := s.repo.UpdateAppointment(ctx, next, expected)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStaleAppointment
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	return out, nil
}

// Cancel is idempotent: canceling a canceled appointment returns it as is
// and publishes nothing.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	ctx, _, _ = correlation.Ensure(ctx)

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusCanceled {
		return current, nil
	}
	if current.Status.Terminal() {
		return nil, ErrInvalidStatusTransition
	}
	return s.cancel(ctx, current, reason)
}

func (s *Service) cancel(ctx context.Context, current *Appointment, reason string) (*Appointment, error) {
	next := *current
	next.Status = StatusCanceled
	if reason != "" {
		next.CancelReason = &reason
	}
	next.UpdatedAt = s.clock()

	updated, err := s.write(ctx, &next, current.Status)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, canceledEvent(updated, reason))
	logger.FromContext(ctx, s.log).WithField("appointment_id", updated.ID).Info("appointment canceled")
	return updated, nil
}

type RecordInput struct {
	RecordID  uuid.UUID
	Diagnosis string
	Treatment string
	Notes     string
}

// AttachRecord stores the clinical outcome of an appointment and emits
// RecordCreated. The record id is kept when the appointment already has one.
func (s *Service) AttachRecord(ctx context.Context, id uuid.UUID, in RecordInput) (*Appointment, error) {
	ctx, _, _ = correlation.Ensure(ctx)

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCanceled {
		return nil, ErrInvalidStatusTransition
	}

	recordID := in.RecordID
	switch {
	case recordID != uuid.Nil:
	case appt.RecordID != nil:
		recordID = *appt.RecordID
	default:
		recordID = uuid.New()
	}

	now := s.clock()
	if err := s.repo.SetRecord(ctx, id, recordID, now); err != nil {
		return nil, err
	}
	appt.RecordID = &recordID
	appt.UpdatedAt = now

	s.emit(ctx, events.RecordCreated{
		Meta:        events.NewMeta(id, now),
		RecordID:    recordID,
		PatientID:   appt.PatientID,
		PhysicianID: appt.PhysicianID,
		Diagnosis:   in.Diagnosis,
		Treatment:   in.Treatment,
		Notes:       in.Notes,
	})
	return appt, nil
}

// Get reads the local store first and falls back to peers on a miss. Any
// peer failure is reported as ErrAppointmentNotFound.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, Origin, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err == nil {
		return appt, OriginLocal, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, "", fmt.Errorf("get appointment: %w", err)
	}
	if s.peers == nil {
		return nil, "", ErrAppointmentNotFound
	}

	body, err := s.peers.Resolve(ctx, peerResource, id.String())
	if err != nil {
		return nil, "", ErrAppointmentNotFound
	}
	var remote Appointment
	if err := json.Unmarshal(body, &remote); err != nil || remote.ID != id {
		logger.FromContext(ctx, s.log).WithField("appointment_id", id).Warn("peer returned an unusable appointment body")
		return nil, "", ErrAppointmentNotFound
	}
	return &remote, OriginPeer, nil
}

// AvailableSlots lists the physician's free slots between the dates of from
// and to, inclusive.
func (s *Service) AvailableSlots(ctx context.Context, physicianID uuid.UUID, from, to time.Time) ([]schedule.Slot, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range ends before it starts", ErrInvalidInput)
	}
	physician, err := s.repo.GetPhysicianByID(ctx, physicianID)
	if err != nil {
		return nil, err
	}
	wh, err := physician.WorkingHours()
	if err != nil {
		return nil, fmt.Errorf("physician %s: %w", physician.ID, err)
	}

	// whole days on both ends, one extra day covers timezone skew
	booked, err := s.repo.BookedStarts(ctx, physicianID, from.Add(-24*time.Hour), to.Add(48*time.Hour))
	if err != nil {
		return nil, err
	}
	return slices.Collect(s.calc.GenerateAvailableSlots(s.rules.Clamp(wh), booked, from, to)), nil
}

func (s *Service) emit(ctx context.Context, ev events.Event) {
	if s.projector != nil {
		if err := s.projector.ApplyLocal(ctx, ev); err != nil {
			logger.FromContext(ctx, s.log).WithError(err).
				WithField("event_type", ev.Type()).Warn("failed to apply event locally")
		}
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, ev)
	}
}

func consultationType(v string) (string, error) {
	switch v {
	case "":
		return ConsultationInPerson, nil
	case ConsultationInPerson, ConsultationTelemedicine:
		return v, nil
	}
	return "", fmt.Errorf("%w: consultation type %q", ErrInvalidInput, v)
}
