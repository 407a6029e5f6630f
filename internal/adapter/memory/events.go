package memory

import (
	"context"
	"sync"

	"github.com/Strob0t/MissionControl/internal/domain/event"
)

// EventLog is an in-memory eventstore.Store.
type EventLog struct {
	mu        sync.RWMutex
	events    []event.Event
	maxEvents int
}

// NewEventLog returns an EventLog keeping at most maxEvents events
// (non-positive means unbounded).
func NewEventLog(maxEvents int) *EventLog {
	return &EventLog{maxEvents: maxEvents}
}

// Append records a feed event, evicting the oldest beyond maxEvents.
func (l *EventLog) Append(_ context.Context, ev *event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, *ev)
	if l.maxEvents > 0 && len(l.events) > l.maxEvents {
		l.events = append(l.events[:0:0], l.events[len(l.events)-l.maxEvents:]...)
	}
	return nil
}

// Recent returns the newest limit events, oldest first.
func (l *EventLog) Recent(_ context.Context, limit int) ([]event.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if limit > 0 && len(l.events) > limit {
		start = len(l.events) - limit
	}
	return append([]event.Event(nil), l.events[start:]...), nil
}

// ListByTask returns the events of a task in insertion order.
func (l *EventLog) ListByTask(_ context.Context, taskID string) ([]event.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]event.Event, 0)
	for i := range l.events {
		if l.events[i].TaskID == taskID {
			out = append(out, l.events[i])
		}
	}
	return out, nil
}
