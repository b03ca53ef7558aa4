package cases

import "context"

// Repository is the persistence contract for cases, their versioned
// entries and the queue.
//
// Atomicity contract: ReplaceCurrentEntry is one atomic unit; readers of
// the current entry never observe the predecessor deleted without its
// successor present.
type Repository interface {
	InsertCase(ctx context.Context, c Case) error
	GetCase(ctx context.Context, caseID string) (Case, error)
	UpdateCase(ctx context.Context, c Case) error

	// CurrentEntry returns the latest non-deleted entry of a case.
	CurrentEntry(ctx context.Context, caseID string) (Entry, bool, error)

	// ReplaceCurrentEntry inserts next and soft-deletes the previous
	// current entry (if any) in one transaction.
	ReplaceCurrentEntry(ctx context.Context, caseID string, next Entry) error

	// WasEverAssigned reports whether any entry of the case, deleted ones
	// included, carried this agent session. The scheduler's idempotent
	// reassignment guard reads it.
	WasEverAssigned(ctx context.Context, caseID, sessionID string) (bool, error)

	Enqueue(ctx context.Context, q QueueEntry) error
	Dequeue(ctx context.Context, caseID string) error
	IsQueued(ctx context.Context, caseID string) (bool, error)

	// ListQueue returns all queue entries, unordered. Queue sources sort
	// by priority (nulls last) on top of it.
	ListQueue(ctx context.Context) ([]QueueEntry, error)

	// AssignedOpenCaseIDs lists non-closed cases whose current entry is
	// assigned to the session.
	AssignedOpenCaseIDs(ctx context.Context, sessionID string) ([]string, error)

	// ListOpenAssignedCases lists all non-closed cases whose current entry
	// is assigned to some agent. Phase 2 of the sweep scans it for paused
	// cases.
	ListOpenAssignedCases(ctx context.Context) ([]Case, error)
}
