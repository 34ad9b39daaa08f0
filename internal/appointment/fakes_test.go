package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-replication/internal/clients"
	"github.com/hackgods/appointment-replication/internal/events"
	redisclient "github.com/hackgods/appointment-replication/internal/redis"
)

type memRepo struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]Patient
	physicians   map[uuid.UUID]Physician
	appointments map[uuid.UUID]Appointment
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:     map[uuid.UUID]Patient{},
		physicians:   map[uuid.UUID]Physician{},
		appointments: map[uuid.UUID]Appointment{},
	}
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) GetPhysicianByID(_ context.Context, id uuid.UUID) (*Physician, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.physicians[id]
	if !ok {
		return nil, ErrPhysicianNotFound
	}
	return &p, nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) FindConflict(_ context.Context, physicianID, patientID uuid.UUID, at time.Time, exclude uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.ID == exclude || a.Status == StatusCanceled || !a.ScheduledAt.Equal(at) {
			continue
		}
		if a.PhysicianID == physicianID || a.PatientID == patientID {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) BookedStarts(_ context.Context, physicianID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []time.Time
	for _, a := range r.appointments {
		if a.PhysicianID == physicianID && a.Status != StatusCanceled &&
			!a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			out = append(out, a.ScheduledAt)
		}
	}
	return out, nil
}

func (r *memRepo) CreateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appointments[a.ID] = *a
	out := *a
	return &out, nil
}

func (r *memRepo) UpdateAppointment(_ context.Context, a *Appointment, expected Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.appointments[a.ID]
	if !ok || cur.Status != expected {
		return nil, ErrAppointmentNotFound
	}
	next := *a
	next.RecordID = cur.RecordID
	next.CreatedAt = cur.CreatedAt
	r.appointments[a.ID] = next
	return &next, nil
}

func (r *memRepo) SetRecord(_ context.Context, id, recordID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil
	}
	a.RecordID = &recordID
	if at.After(a.UpdatedAt) {
		a.UpdatedAt = at
	}
	r.appointments[id] = a
	return nil
}

func (r *memRepo) UpsertReplica(_ context.Context, rep Replica) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.appointments[rep.ID]
	if ok && !cur.UpdatedAt.Before(rep.At) {
		return nil
	}
	if !ok {
		cur = Appointment{ID: rep.ID, Status: StatusScheduled, CreatedAt: rep.At}
	}
	cur.PatientID = rep.PatientID
	cur.PhysicianID = rep.PhysicianID
	cur.ScheduledAt = rep.ScheduledAt
	cur.ConsultationType = rep.ConsultationType
	if rep.Status != "" {
		cur.Status = rep.Status
	}
	if rep.CancelReason != nil {
		cur.CancelReason = rep.CancelReason
	}
	cur.UpdatedAt = rep.At
	r.appointments[rep.ID] = cur
	return nil
}

type fakeLocker struct {
	busy bool
	keys []string
}

func (l *fakeLocker) WithSlotLock(ctx context.Context, physicianID uuid.UUID, at time.Time, fn func(context.Context) error) error {
	l.keys = append(l.keys, redisclient.SlotKey(physicianID, at))
	if l.busy {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

type sagaStep struct {
	step          string
	correlationID string
	compensation  bool
}

type fakeSaga struct {
	steps       []sagaStep
	completed   int
	compensated []string
}

func (s *fakeSaga) RecordStep(_ context.Context, _ uuid.UUID, stepType string, _ any, correlationID string, isCompensation bool) {
	s.steps = append(s.steps, sagaStep{step: stepType, correlationID: correlationID, compensation: isCompensation})
}

func (s *fakeSaga) Complete(context.Context, uuid.UUID, string) (int, error) {
	s.completed++
	return len(s.steps), nil
}

func (s *fakeSaga) Compensate(_ context.Context, _ uuid.UUID, reason, _ string) (int, error) {
	s.compensated = append(s.compensated, reason)
	return len(s.steps), nil
}

func (s *fakeSaga) stepNames() []string {
	out := make([]string, 0, len(s.steps))
	for _, st := range s.steps {
		out = append(out, st.step)
	}
	return out
}

type fakeAuth struct {
	reg     clients.Registration
	err     error
	calls   int
	deleted []string
}

func (a *fakeAuth) RegisterPatient(context.Context, clients.PatientAccount) (clients.Registration, error) {
	a.calls++
	return a.reg, a.err
}

func (a *fakeAuth) DeletePatient(_ context.Context, userID string) error {
	a.deleted = append(a.deleted, userID)
	return nil
}

type fakeRecords struct {
	id  uuid.UUID
	err error
}

func (r *fakeRecords) CreateRecord(context.Context, clients.RecordRequest) (uuid.UUID, error) {
	return r.id, r.err
}

// eventLog serves as both Publisher and Projector.
type eventLog struct {
	published []events.Event
	applied   []events.Event
}

func (l *eventLog) Publish(_ context.Context, ev events.Event) bool {
	l.published = append(l.published, ev)
	return true
}

func (l *eventLog) ApplyLocal(_ context.Context, ev events.Event) error {
	l.applied = append(l.applied, ev)
	return nil
}

func (l *eventLog) types() []events.Type {
	out := make([]events.Type, 0, len(l.published))
	for _, ev := range l.published {
		out = append(out, ev.Type())
	}
	return out
}

type fakePeers struct {
	body  []byte
	err   error
	calls int
}

func (p *fakePeers) Resolve(context.Context, string, string) ([]byte, error) {
	p.calls++
	return p.body, p.err
}
