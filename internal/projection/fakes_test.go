package projection

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-replication/internal/correlation"
	"github.com/hackgods/appointment-replication/internal/events"
	"github.com/hackgods/appointment-replication/internal/eventstore"
)

type memStore struct {
	mu      sync.Mutex
	entries []eventstore.Entry
	seq     int64
	err     error
}

func (s *memStore) Append(_ context.Context, e eventstore.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	for _, existing := range s.entries {
		if existing.EventID == e.EventID {
			return false, nil
		}
	}
	s.seq++
	e.Seq = s.seq
	s.entries = append(s.entries, e)
	return true, nil
}

func (s *memStore) ListByEntity(_ context.Context, id uuid.UUID) ([]eventstore.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventstore.Entry
	for _, e := range s.entries {
		if e.EntityID == id {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func (s *memStore) EntityIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, e := range s.entries {
		if !seen[e.EntityID] {
			seen[e.EntityID] = true
			ids = append(ids, e.EntityID)
		}
	}
	return ids, nil
}

type memRepo struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]Projection
	upserts int
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[uuid.UUID]Projection{}}
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (*Projection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok {
		return nil, ErrProjectionNotFound
	}
	return &p, nil
}

func (r *memRepo) Upsert(_ context.Context, p *Projection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rows[p.AppointmentID]; ok && cur.LastUpdated.After(p.LastUpdated) {
		return false, nil
	}
	r.rows[p.AppointmentID] = *p
	r.upserts++
	return true, nil
}

type recordingReplica struct {
	seen          []events.Type
	correlationID string
	err           error
}

func (r *recordingReplica) ApplyReplica(ctx context.Context, ev events.Event) error {
	r.seen = append(r.seen, ev.Type())
	r.correlationID = correlation.FromContext(ctx)
	return r.err
}

type fakeAcker struct {
	acks, nacks int
	requeued    bool
}

func (a *fakeAcker) Ack(uint64, bool) error { a.acks++; return nil }
func (a *fakeAcker) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeued = requeue
	return nil
}
func (a *fakeAcker) Reject(uint64, bool) error { return errors.New("unexpected reject") }
