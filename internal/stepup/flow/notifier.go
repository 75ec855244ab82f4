package flow

import (
	"sync"

	"github.com/meridianhq/stepup/pkg/idx"
)

// EventType classifies auth-state changes.
type EventType string

const (
	// EventSessionConfirmed fires when a session is promoted. Dependent UI
	// (navigation, protected routes) re-evaluates on it.
	EventSessionConfirmed EventType = "session_confirmed"
	// EventAttemptInvalidated fires when an attempt is cancelled or
	// superseded by a newer one.
	EventAttemptInvalidated EventType = "attempt_invalidated"
)

// Event describes one auth-state change. It deliberately carries no
// PendingStepUp or token material: subscribers are unrelated UI, and a
// reference to pending state in their hands could drive the flow.
type Event struct {
	Type      EventType
	AttemptID idx.ID
}

// Notifier fans auth-state changes out to subscribers.
type Notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns its unsubscribe function.
func (n *Notifier) Subscribe(fn func(Event)) func() {
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Publish delivers the event to all current subscribers, synchronously and
// in no particular order.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	fns := make([]func(Event), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
