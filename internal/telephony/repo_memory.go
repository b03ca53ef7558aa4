package telephony

import (
	"context"
	"sync"
)

// MemoryEventLog is an in-memory, append-only event log keyed by session.
// It backs tests and early development; production deployments plug in the
// signaling subsystem's own log behind EventSource.
type MemoryEventLog struct {
	mu       sync.Mutex
	sessions map[string][]Event
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{sessions: map[string][]Event{}}
}

// Append adds an event to the session's history. Events are immutable once
// appended; there is deliberately no way to rewrite or drop one.
func (l *MemoryEventLog) Append(ctx context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[ev.SessionID] = append(l.sessions[ev.SessionID], ev)
	return nil
}

func (l *MemoryEventLog) EventHistory(ctx context.Context, sessionID string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := l.sessions[sessionID]
	out := make([]Event, len(history))
	copy(out, history)
	return out, nil
}
