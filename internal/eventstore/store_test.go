package eventstore

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-replication/internal/events"
)

func TestNewEntry_RoundTrip(t *testing.T) {
	ev := events.AppointmentCanceled{
		Meta:        events.NewMeta(uuid.New(), time.Now()),
		PatientID:   uuid.New(),
		PhysicianID: uuid.New(),
		Reason:      "patient request",
	}

	e, err := NewEntry(ev, "corr-1")
	require.NoError(t, err)

	assert.Equal(t, ev.EventID, e.EventID)
	assert.Equal(t, ev.EntityID, e.EntityID)
	assert.Equal(t, string(events.TypeAppointmentCanceled), e.EventType)
	assert.Equal(t, "corr-1", e.CorrelationID)

	back, err := e.Decode()
	require.NoError(t, err)
	canceled, ok := back.(events.AppointmentCanceled)
	require.True(t, ok)
	assert.Equal(t, "patient request", canceled.Reason)
}

func TestNewEntry_NilEvent(t *testing.T) {
	_, err := NewEntry(nil, "")
	assert.ErrorIs(t, err, events.ErrMalformedEvent)
}
