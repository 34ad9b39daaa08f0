package events

// HeaderEventType is set on every published message so consumers do not have
// to infer the type from the routing key.
const HeaderEventType = "x-event-type"

// RoutingKeys maps event types to topic routing keys and back.
type RoutingKeys struct {
	Created       string
	Updated       string
	Canceled      string
	RecordCreated string
}

// NewRoutingKeys builds appointment.created style keys from the two prefixes.
func NewRoutingKeys(prefix, recordPrefix string) RoutingKeys {
	return RoutingKeys{
		Created:       prefix + ".created",
		Updated:       prefix + ".updated",
		Canceled:      prefix + ".canceled",
		RecordCreated: recordPrefix + ".created",
	}
}

func (k RoutingKeys) For(t Type) (string, bool) {
	switch t {
	case TypeAppointmentCreated:
		return k.Created, true
	case TypeAppointmentUpdated:
		return k.Updated, true
	case TypeAppointmentCanceled:
		return k.Canceled, true
	case TypeRecordCreated:
		return k.RecordCreated, true
	}
	return "", false
}

func (k RoutingKeys) TypeOf(key string) (Type, bool) {
	switch key {
	case k.Created:
		return TypeAppointmentCreated, true
	case k.Updated:
		return TypeAppointmentUpdated, true
	case k.Canceled:
		return TypeAppointmentCanceled, true
	case k.RecordCreated:
		return TypeRecordCreated, true
	}
	return "", false
}

// All returns every key, used for queue bindings.
func (k RoutingKeys) All() []string {
	return []string{k.Created, k.Updated, k.Canceled, k.RecordCreated}
}
