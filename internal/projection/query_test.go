package projection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-replication/internal/correlation"
	"github.com/hackgods/appointment-replication/internal/logger"
)

type stubPeers struct {
	body     []byte
	err      error
	resource string
}

func (p *stubPeers) Resolve(_ context.Context, resource, _ string) ([]byte, error) {
	p.resource = resource
	return p.body, p.err
}

func TestQuery_LocalFirst(t *testing.T) {
	repo := newMemRepo()
	id := uuid.New()
	repo.rows[id] = Projection{AppointmentID: id, Status: "SCHEDULED"}
	peers := &stubPeers{err: errors.New("must not be called")}

	p, remote, err := NewQuery(repo, peers, logger.Discard()).Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, remote)
	assert.Equal(t, "SCHEDULED", p.Status)
	assert.Empty(t, peers.resource)
}

func TestQuery_PeerFallback(t *testing.T) {
	id := uuid.New()
	body, err := json.Marshal(Projection{AppointmentID: id, Status: "COMPLETED"})
	require.NoError(t, err)
	peers := &stubPeers{body: body}

	p, remote, err := NewQuery(newMemRepo(), peers, logger.Discard()).Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, remote)
	assert.Equal(t, "COMPLETED", p.Status)
	assert.Equal(t, "projections", peers.resource)
}

func TestQuery_MissEverywhere(t *testing.T) {
	q := NewQuery(newMemRepo(), &stubPeers{err: errors.New("exhausted")}, logger.Discard())
	_, _, err := q.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrProjectionNotFound)

	_, _, err = NewQuery(newMemRepo(), nil, logger.Discard()).Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrProjectionNotFound)

	garbage := &stubPeers{body: []byte(`{"appointment_id":"not-a-uuid"}`)}
	_, _, err = NewQuery(newMemRepo(), garbage, logger.Discard()).Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrProjectionNotFound)
}

func TestConsumer_ApplyLocalKeepsRequestCorrelation(t *testing.T) {
	store := &memStore{}
	replica := &recordingReplica{}
	c := newConsumer(store, newMemRepo(), replica)
	ctx := correlation.WithID(context.Background(), "req-42")

	require.NoError(t, c.ApplyLocal(ctx, created(uuid.New(), t0)))
	require.Len(t, store.entries, 1)
	assert.Equal(t, "req-42", store.entries[0].CorrelationID)
	assert.Equal(t, "req-42", replica.correlationID)
}
