package agentsession

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is the in-memory Repository for tests and early development.
// One mutex per repo stands in for the database transaction: each exported
// method is one atomic unit.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]AgentSession
	logs     []LogEntry

	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: map[string]AgentSession{}, clock: time.Now}
}

func (r *MemoryRepo) InsertSession(ctx context.Context, s AgentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepo) GetSession(ctx context.Context, sessionID string) (AgentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return AgentSession{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) UpdateSession(ctx context.Context, s AgentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepo) EndSession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.EndedAt != nil {
		return ErrSessionEnded
	}
	now := r.clock().UTC()
	s.EndedAt = &now
	r.sessions[sessionID] = s
	r.softDeleteCurrentLocked(sessionID, now)
	return nil
}

func (r *MemoryRepo) CurrentLog(ctx context.Context, sessionID string) (LogEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.logs) - 1; i >= 0; i-- {
		e := r.logs[i]
		if e.SessionID == sessionID && e.DeletedAt == nil {
			return e, true, nil
		}
	}
	return LogEntry{}, false, nil
}

func (r *MemoryRepo) ReplaceCurrentLog(ctx context.Context, sessionID string, next LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.softDeleteCurrentLocked(sessionID, r.clock().UTC())
	r.logs = append(r.logs, next)
	return nil
}

func (r *MemoryRepo) CurrentLogForCase(ctx context.Context, caseID string) (LogEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.logs) - 1; i >= 0; i-- {
		e := r.logs[i]
		if e.CaseID == caseID && e.DeletedAt == nil {
			return e, true, nil
		}
	}
	return LogEntry{}, false, nil
}

func (r *MemoryRepo) ListOpenSessions(ctx context.Context) ([]AgentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AgentSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.EndedAt == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// History returns all log entries of a session, deleted ones included.
// Test helper; production code reads CurrentLog only.
func (r *MemoryRepo) History(sessionID string) []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LogEntry
	for _, e := range r.logs {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

func (r *MemoryRepo) softDeleteCurrentLocked(sessionID string, now time.Time) {
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].SessionID == sessionID && r.logs[i].DeletedAt == nil {
			r.logs[i].DeletedAt = &now
			return
		}
	}
}
