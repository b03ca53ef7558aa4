package cases

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is the in-memory Repository for tests and early development.
// One mutex stands in for the database transaction: each exported method is
// one atomic unit.
type MemoryRepo struct {
	mu      sync.Mutex
	casesBy map[string]Case
	entries []Entry
	queue   map[string]QueueEntry

	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{casesBy: map[string]Case{}, queue: map[string]QueueEntry{}, clock: time.Now}
}

func (r *MemoryRepo) InsertCase(ctx context.Context, c Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casesBy[c.ID] = c
	return nil
}

func (r *MemoryRepo) GetCase(ctx context.Context, caseID string) (Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.casesBy[caseID]
	if !ok {
		return Case{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) UpdateCase(ctx context.Context, c Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.casesBy[c.ID]; !ok {
		return ErrNotFound
	}
	r.casesBy[c.ID] = c
	return nil
}

func (r *MemoryRepo) CurrentEntry(ctx context.Context, caseID string) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.CaseID == caseID && e.DeletedAt == nil {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

func (r *MemoryRepo) ReplaceCurrentEntry(ctx context.Context, caseID string, next Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock().UTC()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].CaseID == caseID && r.entries[i].DeletedAt == nil {
			r.entries[i].DeletedAt = &now
			break
		}
	}
	r.entries = append(r.entries, next)
	return nil
}

func (r *MemoryRepo) WasEverAssigned(ctx context.Context, caseID, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.CaseID == caseID && e.AssignedAgentSessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) Enqueue(ctx context.Context, q QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue[q.CaseID] = q
	return nil
}

func (r *MemoryRepo) Dequeue(ctx context.Context, caseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queue, caseID)
	return nil
}

func (r *MemoryRepo) IsQueued(ctx context.Context, caseID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.queue[caseID]
	return ok, nil
}

func (r *MemoryRepo) ListQueue(ctx context.Context) ([]QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]QueueEntry, 0, len(r.queue))
	for _, q := range r.queue {
		out = append(out, q)
	}
	return out, nil
}

func (r *MemoryRepo) AssignedOpenCaseIDs(ctx context.Context, sessionID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.DeletedAt != nil || e.AssignedAgentSessionID != sessionID {
			continue
		}
		if c, ok := r.casesBy[e.CaseID]; ok && c.ClosedAt == nil {
			out = append(out, e.CaseID)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListOpenAssignedCases(ctx context.Context) ([]Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Case
	for _, e := range r.entries {
		if e.DeletedAt != nil || e.AssignedAgentSessionID == "" {
			continue
		}
		if c, ok := r.casesBy[e.CaseID]; ok && c.ClosedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// EntryHistory returns all entries of a case, deleted ones included.
// Test helper.
func (r *MemoryRepo) EntryHistory(caseID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out
}
