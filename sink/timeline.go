package sink

import (
	"context"
	"sync"

	"chat-relay/domain/event"
)

// Timeline records every consumed event in order. It backs in-process
// observers and gives tests a synchronous view of what a connection saw.
type Timeline struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

func (t *Timeline) Consume(_ context.Context, e event.DomainEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
	return nil
}

// Events returns a copy of everything consumed so far.
func (t *Timeline) Events() []event.DomainEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]event.DomainEvent, len(t.events))
	copy(out, t.events)
	return out
}
