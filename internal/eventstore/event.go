package eventstore

import "time"

// Entry is one row of the event log. Seq and At are assigned by the store.
type Entry struct {
	Seq     int64
	BuildID string
	Type    string
	At      time.Time
	Payload []byte
	// Labels are indexed side facts, e.g. the downstream of a trigger decision.
	Labels map[string]string
}

// Entry lets a stored row be re-applied like a freshly built event.
func (e Entry) Entry() Entry { return e }

// Event is anything that can be appended to the log.
type Event interface {
	Entry() Entry
}
