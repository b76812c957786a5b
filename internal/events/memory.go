package events

import "sync"

// MemoryPublisher buffers events in memory. Used by tests and by
// standalone deployments that run without a NATS connection.
type MemoryPublisher struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

// NewMemoryPublisher creates a publisher retaining at most limit events.
// A non-positive limit keeps everything.
func NewMemoryPublisher(limit int) *MemoryPublisher {
	return &MemoryPublisher{limit: limit}
}

// Publish implements Publisher
func (p *MemoryPublisher) Publish(event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
	if p.limit > 0 && len(p.events) > p.limit {
		p.events = p.events[len(p.events)-p.limit:]
	}
	return nil
}

// Events returns a copy of the buffered events
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// EventsOfKind returns buffered events matching the given kind
func (p *MemoryPublisher) EventsOfKind(kind Kind) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Event
	for _, e := range p.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
