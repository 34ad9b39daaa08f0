package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-replication/internal/events"
)

// Entry is one append-only row of the event log. Seq breaks ties between
// entries sharing an occurred_at timestamp.
type Entry struct {
	Seq           int64
	EventID       uuid.UUID
	EntityID      uuid.UUID
	EventType     string
	Payload       []byte
	CorrelationID string
	OccurredAt    time.Time
}

// Store is the append-only log every projection can be rebuilt from.
type Store interface {
	// Append stores e unless an entry with the same event id exists.
	// It reports whether a new row was written.
	Append(ctx context.Context, e Entry) (bool, error)
	// ListByEntity returns entries ordered by occurred_at, then seq.
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]Entry, error)
	EntityIDs(ctx context.Context) ([]uuid.UUID, error)
}

func NewEntry(ev events.Event, correlationID string) (Entry, error) {
	payload, err := events.Encode(ev)
	if err != nil {
		return Entry{}, fmt.Errorf("encode event: %w", err)
	}

	meta := ev.Metadata()
	return Entry{
		EventID:       meta.EventID,
		EntityID:      meta.EntityID,
		EventType:     string(ev.Type()),
		Payload:       payload,
		CorrelationID: correlationID,
		OccurredAt:    meta.OccurredAt,
	}, nil
}

// Decode turns the entry back into an event.
func (e Entry) Decode() (events.Event, error) {
	return events.Decode(e.EventType, e.Payload)
}
