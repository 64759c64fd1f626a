package types

import "strconv"

// Event is the rendered form of a program event: a type tag plus string
// attributes. It is what receipts carry and what the read model consumes.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// EventSource is implemented by typed events that can render themselves.
type EventSource interface {
	Event() *Event
}

// Rendered returns the event behind src, or nil if src does not render.
func Rendered(src interface{}) *Event {
	if s, ok := src.(EventSource); ok {
		return s.Event()
	}
	return nil
}

// Uint parses a numeric attribute. Missing or malformed values read as zero
// with ok false.
func (e *Event) Uint(key string) (uint64, bool) {
	if e == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(e.Attributes[key], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
