package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-replication/internal/clients"
	"github.com/hackgods/appointment-replication/internal/correlation"
	"github.com/hackgods/appointment-replication/internal/events"
	"github.com/hackgods/appointment-replication/internal/logger"
	"github.com/hackgods/appointment-replication/internal/peer"
	"github.com/hackgods/appointment-replication/internal/saga"
	"github.com/hackgods/appointment-replication/internal/schedule"
)

var (
	testNow      = time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	mondayTen    = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	mondayTwenty = time.Date(2026, 10, 19, 10, 20, 0, 0, time.UTC)
)

type fixture struct {
	svc       *Service
	repo      *memRepo
	locker    *fakeLocker
	saga      *fakeSaga
	auth      *fakeAuth
	records   *fakeRecords
	events    *eventLog
	peers     *fakePeers
	patient   Patient
	physician Physician
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMemRepo(),
		locker:  &fakeLocker{},
		saga:    &fakeSaga{},
		auth:    &fakeAuth{reg: clients.Registration{UserID: "user-1", Created: true}},
		records: &fakeRecords{id: uuid.New()},
		events:  &eventLog{},
		peers:   &fakePeers{err: peer.ErrNotFound},
	}

	email := "ana@example.com"
	f.patient = Patient{ID: uuid.New(), Name: "Ana", Email: &email}
	f.physician = Physician{ID: uuid.New(), Name: "Dr. Costa", WorkStart: "09:00", WorkEnd: "17:00"}
	f.repo.patients[f.patient.ID] = f.patient
	f.repo.physicians[f.physician.ID] = f.physician

	clock := func() time.Time { return testNow }
	f.svc = NewService(Deps{
		Repo:       f.repo,
		Locker:     f.locker,
		Saga:       f.saga,
		Calculator: schedule.NewCalculator(schedule.DefaultRules()).WithClock(clock),
		Publisher:  f.events,
		Projector:  f.events,
		Auth:       f.auth,
		Records:    f.records,
		Peers:      f.peers,
		Log:        logger.Discard(),
	})
	f.svc.now = clock
	return f
}

func (f *fixture) input(at time.Time) ScheduleInput {
	return ScheduleInput{PatientID: f.patient.ID, PhysicianID: f.physician.ID, ScheduledAt: at}
}

func (f *fixture) seed(status Status, at time.Time) Appointment {
	a := Appointment{
		ID:               uuid.New(),
		PatientID:        uuid.New(),
		PhysicianID:      f.physician.ID,
		ScheduledAt:      at,
		ConsultationType: ConsultationInPerson,
		Status:           status,
		CreatedAt:        testNow.Add(-time.Hour),
		UpdatedAt:        testNow.Add(-time.Hour),
	}
	f.repo.appointments[a.ID] = a
	return a
}

func TestSchedule_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := correlation.WithID(context.Background(), "corr-1")

	appt, err := f.svc.Schedule(ctx, f.input(mondayTen))
	require.NoError(t, err)

	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, ConsultationInPerson, appt.ConsultationType)
	require.NotNil(t, appt.RecordID)
	assert.Equal(t, f.records.id, *appt.RecordID)

	assert.Equal(t, []string{saga.StepAuthRegistered, saga.StepAppointmentCreated, saga.StepRecordCreated}, f.saga.stepNames())
	for _, st := range f.saga.steps {
		assert.Equal(t, "corr-1", st.correlationID)
	}
	assert.Equal(t, 1, f.saga.completed)
	assert.Empty(t, f.saga.compensated)

	assert.Equal(t, []events.Type{events.TypeAppointmentCreated, events.TypeRecordCreated}, f.events.types())
	require.Len(t, f.events.applied, 2)
	created := f.events.published[0].(events.AppointmentCreated)
	assert.Equal(t, appt.ID, created.EntityID)
	assert.Equal(t, "SCHEDULED", created.Status)
	assert.True(t, created.OccurredAt.Equal(appt.UpdatedAt))

	// peers learn the record id linked during the saga
	rec := f.events.published[1].(events.RecordCreated)
	assert.Equal(t, appt.ID, rec.EntityID)
	assert.Equal(t, f.records.id, rec.RecordID)
	assert.False(t, rec.OccurredAt.Before(created.OccurredAt))
}

func TestSchedule_NoRecordIDNoRecordEvent(t *testing.T) {
	f := newFixture(t)
	f.records.id = uuid.Nil

	appt, err := f.svc.Schedule(context.Background(), f.input(mondayTen))
	require.NoError(t, err)
	assert.Nil(t, appt.RecordID)
	assert.Equal(t, []events.Type{events.TypeAppointmentCreated}, f.events.types())
}

func TestSchedule_ConflictCompensates(t *testing.T) {
	f := newFixture(t)
	f.seed(StatusScheduled, mondayTen)

	_, err := f.svc.Schedule(context.Background(), f.input(mondayTen))
	require.ErrorIs(t, err, ErrConflict)

	assert.Equal(t, []string{"user-1"}, f.auth.deleted)
	require.Len(t, f.saga.compensated, 1)
	assert.Contains(t, f.saga.compensated[0], ErrConflict.Error())
	assert.Zero(t, f.saga.completed)
	assert.Empty(t, f.events.published)
}

func TestSchedule_ConflictKeepsExistingLogin(t *testing.T) {
	f := newFixture(t)
	f.auth.reg.Created = false
	f.seed(StatusScheduled, mondayTen)

	_, err := f.svc.Schedule(context.Background(), f.input(mondayTen))
	require.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, f.auth.deleted)
}

func TestSchedule_CanceledAppointmentDoesNotConflict(t *testing.T) {
	f := newFixture(t)
	f.seed(StatusCanceled, mondayTen)

	_, err := f.svc.Schedule(context.Background(), f.input(mondayTen))
	assert.NoError(t, err)
}

func TestSchedule_RecordFailureCancelsAppointment(t *testing.T) {
	f := newFixture(t)
	f.records.err = clients.ErrTransient

	_, err := f.svc.Schedule(context.Background(), f.input(mondayTen))
	require.ErrorIs(t, err, clients.ErrTransient)

	require.Len(t, f.repo.appointments, 1)
	for _, a := range f.repo.appointments {
		assert.Equal(t, StatusCanceled, a.Status)
		require.NotNil(t, a.CancelReason)
		assert.Contains(t, *a.CancelReason, "saga compensation")
	}
	assert.Equal(t, []events.Type{events.TypeAppointmentCreated, events.TypeAppointmentCanceled}, f.events.types())
	assert.Equal(t, []string{"user-1"}, f.auth.deleted)
	assert.Len(t, f.saga.compensated, 1)
}

func TestSchedule_AuthFailureStopsEarly(t *testing.T) {
	f := newFixture(t)
	f.auth.err = clients.ErrUnauthorized

	_, err := f.svc.Schedule(context.Background(), f.input(mondayTen))
	require.ErrorIs(t, err, clients.ErrUnauthorized)
	assert.Empty(t, f.repo.appointments)
	assert.Empty(t, f.auth.deleted)
	assert.Len(t, f.saga.compensated, 1)
}

func TestSchedule_TimeRules(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Schedule(context.Background(), f.input(time.Date(2026, 10, 25, 10, 0, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, schedule.ErrSundayClosed)

	_, err = f.svc.Schedule(context.Background(), f.input(time.Date(2026, 10, 19, 10, 10, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, schedule.ErrSlotGranularity)

	// clinic is open at 08:00 but this physician starts at 09:00
	_, err = f.svc.Schedule(context.Background(), f.input(time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, schedule.ErrOutsideWorkingHours)

	assert.Zero(t, f.auth.calls)
}

func TestSchedule_UnknownPatientAndBadType(t *testing.T) {
	f := newFixture(t)

	in := f.input(mondayTen)
	in.PatientID = uuid.New()
	_, err := f.svc.Schedule(context.Background(), in)
	assert.ErrorIs(t, err, ErrPatientNotFound)

	in = f.input(mondayTen)
	in.ConsultationType = "HOUSE_CALL"
	_, err = f.svc.Schedule(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSchedule_SlotLockBusy(t *testing.T) {
	f := newFixture(t)
	f.locker.busy = true

	_, err := f.svc.Schedule(context.Background(), f.input(mondayTen))
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
	assert.Equal(t, []string{"user-1"}, f.auth.deleted)
}

func TestUpdate_StatusTransitions(t *testing.T) {
	f := newFixture(t)
	a := f.seed(StatusScheduled, mondayTen)

	confirmed := StatusConfirmed
	got, err := f.svc.Update(context.Background(), a.ID, UpdateInput{Status: &confirmed})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)

	require.Len(t, f.events.published, 1)
	upd := f.events.published[0].(events.AppointmentUpdated)
	assert.Equal(t, "SCHEDULED", upd.PreviousStatus)
	assert.Equal(t, "CONFIRMED", upd.NewStatus)

	completed := StatusCompleted
	_, err = f.svc.Update(context.Background(), a.ID, UpdateInput{Status: &completed})
	require.NoError(t, err)

	_, err = f.svc.Update(context.Background(), a.ID, UpdateInput{Status: &confirmed})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Len(t, f.events.published, 2)
}

func TestUpdate_RescheduleChecksConflicts(t *testing.T) {
	f := newFixture(t)
	a := f.seed(StatusScheduled, mondayTen)
	f.seed(StatusConfirmed, mondayTwenty)

	_, err := f.svc.Update(context.Background(), a.ID, UpdateInput{ScheduledAt: &mondayTwenty})
	assert.ErrorIs(t, err, ErrConflict)

	later := mondayTen.Add(2 * time.Hour)
	got, err := f.svc.Update(context.Background(), a.ID, UpdateInput{ScheduledAt: &later})
	require.NoError(t, err)
	assert.True(t, got.ScheduledAt.Equal(later))
	assert.Contains(t, f.locker.keys[len(f.locker.keys)-1], f.physician.ID.String())
}

func TestUpdate_ToCanceledRoutesToCancel(t *testing.T) {
	f := newFixture(t)
	a := f.seed(StatusScheduled, mondayTen)

	canceled := StatusCanceled
	got, err := f.svc.Update(context.Background(), a.ID, UpdateInput{Status: &canceled})
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.Equal(t, []events.Type{events.TypeAppointmentCanceled}, f.events.types())
}

func TestCancel_Idempotent(t *testing.T) {
	f := newFixture(t)
	a := f.seed(StatusConfirmed, mondayTen)

	got, err := f.svc.Cancel(context.Background(), a.ID, "patient request")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "patient request", *got.CancelReason)

	_, err = f.svc.Cancel(context.Background(), a.ID, "again")
	require.NoError(t, err)
	assert.Len(t, f.events.published, 1)

	ev := f.events.published[0].(events.AppointmentCanceled)
	assert.Equal(t, "patient request", ev.Reason)
}

func TestCancel_CompletedIsRejected(t *testing.T) {
	f := newFixture(t)
	a := f.seed(StatusCompleted, mondayTen)

	_, err := f.svc.Cancel(context.Background(), a.ID, "")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestAttachRecord_EmitsRecordCreated(t *testing.T) {
	f := newFixture(t)
	a := f.seed(StatusCompleted, mondayTen)

	got, err := f.svc.AttachRecord(context.Background(), a.ID, RecordInput{Diagnosis: "flu", Treatment: "rest"})
	require.NoError(t, err)
	require.NotNil(t, got.RecordID)

	require.Len(t, f.events.published, 1)
	rec := f.events.published[0].(events.RecordCreated)
	assert.Equal(t, *got.RecordID, rec.RecordID)
	assert.Equal(t, "flu", rec.Diagnosis)
	assert.Len(t, f.events.applied, 1)

	// a second attach keeps the same record id
	again, err := f.svc.AttachRecord(context.Background(), a.ID, RecordInput{Notes: "follow-up"})
	require.NoError(t, err)
	assert.Equal(t, *got.RecordID, *again.RecordID)
}

func TestGet_LocalThenPeer(t *testing.T) {
	f := newFixture(t)
	local := f.seed(StatusScheduled, mondayTen)

	got, origin, err := f.svc.Get(context.Background(), local.ID)
	require.NoError(t, err)
	assert.Equal(t, OriginLocal, origin)
	assert.Equal(t, local.ID, got.ID)
	assert.Zero(t, f.peers.calls)

	remote := Appointment{ID: uuid.New(), Status: StatusConfirmed, ScheduledAt: mondayTwenty}
	f.peers.body, _ = json.Marshal(remote)
	f.peers.err = nil

	got, origin, err = f.svc.Get(context.Background(), remote.ID)
	require.NoError(t, err)
	assert.Equal(t, OriginPeer, origin)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestGet_PeerFailuresAreNotFound(t *testing.T) {
	f := newFixture(t)

	f.peers.err = errors.New("connection refused")
	_, _, err := f.svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	// a peer answering with a different entity is not a hit
	f.peers.err = nil
	f.peers.body, _ = json.Marshal(Appointment{ID: uuid.New()})
	_, _, err = f.svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestAvailableSlots(t *testing.T) {
	f := newFixture(t)
	f.seed(StatusScheduled, mondayTen)
	f.seed(StatusCanceled, mondayTwenty)

	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	slots, err := f.svc.AvailableSlots(context.Background(), f.physician.ID, day, day)
	require.NoError(t, err)

	starts := make([]time.Time, 0, len(slots))
	for _, s := range slots {
		starts = append(starts, s.Start)
	}
	assert.Len(t, starts, 23)
	assert.NotContains(t, starts, mondayTen)
	assert.Contains(t, starts, mondayTwenty)

	_, err = f.svc.AvailableSlots(context.Background(), f.physician.ID, day, day.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReplicaWriter(t *testing.T) {
	repo := newMemRepo()
	w := NewReplicaWriter(repo, logger.Discard())
	ctx := context.Background()
	id := uuid.New()
	t0 := testNow

	created := events.AppointmentCreated{
		Meta: events.NewMeta(id, t0), PatientID: uuid.New(), PhysicianID: uuid.New(),
		ScheduledAt: mondayTen, ConsultationType: ConsultationInPerson, Status: "SCHEDULED",
	}
	require.NoError(t, w.ApplyReplica(ctx, created))

	updated := events.AppointmentUpdated{
		Meta: events.NewMeta(id, t0.Add(time.Minute)), PatientID: created.PatientID, PhysicianID: created.PhysicianID,
		ScheduledAt: mondayTen, ConsultationType: ConsultationInPerson, PreviousStatus: "SCHEDULED", NewStatus: "CONFIRMED",
	}
	require.NoError(t, w.ApplyReplica(ctx, updated))
	// older redelivery does not regress the row
	require.NoError(t, w.ApplyReplica(ctx, created))

	got, err := repo.GetAppointmentByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)

	canceled := events.AppointmentCanceled{
		Meta: events.NewMeta(id, t0.Add(2*time.Minute)), PatientID: created.PatientID, PhysicianID: created.PhysicianID,
		ScheduledAt: mondayTen, Reason: "no longer needed",
	}
	require.NoError(t, w.ApplyReplica(ctx, canceled))

	recordID := uuid.New()
	require.NoError(t, w.ApplyReplica(ctx, events.RecordCreated{Meta: events.NewMeta(id, t0.Add(3*time.Minute)), RecordID: recordID}))
	require.NoError(t, w.ApplyReplica(ctx, events.Unknown{Meta: events.NewMeta(id, t0), Tag: "SOMETHING_ELSE"}))

	got, err = repo.GetAppointmentByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "no longer needed", *got.CancelReason)
	require.NotNil(t, got.RecordID)
	assert.Equal(t, recordID, *got.RecordID)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusScheduled, StatusConfirmed))
	assert.True(t, CanTransition(StatusConfirmed, StatusNoShow))
	assert.False(t, CanTransition(StatusCompleted, StatusScheduled))
	assert.False(t, CanTransition(StatusConfirmed, StatusScheduled))
	assert.True(t, StatusCanceled.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
	assert.False(t, Status("LOST").Valid())
}
