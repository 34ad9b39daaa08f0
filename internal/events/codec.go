package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrMalformedEvent = errors.New("malformed event")

func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	if u, ok := ev.(Unknown); ok {
		return u.Raw, nil
	}
	return json.Marshal(ev)
}

// Decode turns a stored or inbound payload back into an Event. Unrecognised
// tags come back as Unknown with a nil error; payloads that cannot be parsed
// or lack an entity id fail with ErrMalformedEvent.
func Decode(tag string, payload []byte) (Event, error) {
	var (
		ev  Event
		err error
	)

	switch Type(tag) {
	case TypeAppointmentCreated:
		ev, err = decodeAs[AppointmentCreated](payload)
	case TypeAppointmentUpdated:
		ev, err = decodeAs[AppointmentUpdated](payload)
	case TypeAppointmentCanceled:
		ev, err = decodeAs[AppointmentCanceled](payload)
	case TypeRecordCreated:
		ev, err = decodeAs[RecordCreated](payload)
	default:
		u := Unknown{Tag: tag, Raw: append(json.RawMessage(nil), payload...)}
		// best effort, an unknown shape may not carry our metadata at all
		_ = json.Unmarshal(payload, &u.Meta)
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, tag, err)
	}

	if ev.Metadata().EntityID == uuid.Nil {
		return nil, fmt.Errorf("%w: %s: missing entityId", ErrMalformedEvent, tag)
	}
	return ev, nil
}

func decodeAs[T Event](payload []byte) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		var zero T
		return zero, err
	}
	return t, nil
}
