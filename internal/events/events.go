// Package events distributes turn lifecycle events to the view layer.
package events

import (
	"context"
	"sync"

	"github.com/xiquet-ai/casteller-assistant/internal/model"
)

// Publisher receives turn lifecycle events. Publishing is best-effort: the
// orchestrator logs failures and never blocks a commit on them.
type Publisher interface {
	Publish(ctx context.Context, ev model.TurnEvent) error
}

// Noop discards all events.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, model.TurnEvent) error { return nil }

// Multi fans one event out to several publishers, returning the first error.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, ev model.TurnEvent) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Bus is an in-process fan-out feeding SSE connections. Slow subscribers have
// events dropped rather than blocking the orchestrator.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan model.TurnEvent
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan model.TurnEvent)}
}

// Subscribe returns a channel of events for one user and a cancel function.
func (b *Bus) Subscribe(userID string) (<-chan model.TurnEvent, func()) {
	ch := make(chan model.TurnEvent, 16)

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]chan model.TurnEvent)
	}
	id := b.next
	b.next++
	b.subs[userID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs, ok := b.subs[userID]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(b.subs, userID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish implements Publisher.
func (b *Bus) Publish(_ context.Context, ev model.TurnEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[ev.UserID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}
