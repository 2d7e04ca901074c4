// Package tlmt defines the minimal anonymous-telemetry surface. Events are
// best effort; senders must never block or fail the crawl.
package tlmt

import "context"

// Event is one telemetry datapoint.
type Event struct {
	Name string
	Data map[string]any
}

// Telemetry sends events to a backend.
type Telemetry interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

// NewEvent builds an event, copying data so callers can reuse maps.
func NewEvent(name string, data map[string]any) Event {
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}

	return Event{Name: name, Data: cp}
}
