// Package eventlog holds the bounded, in-memory ring of operator-visible
// events emitted by the scheduler loop and its collaborators.
package eventlog

import (
	"sync"
	"time"

	"github.com/randalmurphal/orcd/internal/model"
)

// Capacity is the fixed size of the event ring.
const Capacity = 200

// Log is a thread-safe bounded ring buffer of model.Event records.
type Log struct {
	mu     sync.Mutex
	events []model.Event
	next   int
	filled bool
}

// New returns an empty event log.
func New() *Log {
	return &Log{events: make([]model.Event, Capacity)}
}

// Emit records a new event, evicting the oldest one once the ring is full.
func (l *Log) Emit(source, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = model.Event{
		Timestamp: time.Now(),
		Source:    source,
		Message:   message,
	}
	l.next = (l.next + 1) % Capacity
	if l.next == 0 {
		l.filled = true
	}
}

// Recent returns up to Capacity events in chronological order, oldest
// first.
func (l *Log) Recent() []model.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.filled {
		out := make([]model.Event, l.next)
		copy(out, l.events[:l.next])
		return out
	}

	out := make([]model.Event, Capacity)
	copy(out, l.events[l.next:])
	copy(out[Capacity-l.next:], l.events[:l.next])
	return out
}
