package agentsession

import "context"

// Repository is the persistence contract for agent sessions and their
// status logs.
//
// Atomicity contract: ReplaceCurrentLog and EndSession are each one atomic
// unit: concurrent readers of the current entry must never observe the old
// entry deleted without its successor present (or, for EndSession, the
// session still open with its log already closed).
type Repository interface {
	InsertSession(ctx context.Context, s AgentSession) error
	GetSession(ctx context.Context, sessionID string) (AgentSession, error)
	UpdateSession(ctx context.Context, s AgentSession) error

	// EndSession soft-deletes the session and closes its current log entry.
	EndSession(ctx context.Context, sessionID string) error

	// CurrentLog returns the latest non-deleted log entry of a session.
	CurrentLog(ctx context.Context, sessionID string) (LogEntry, bool, error)

	// ReplaceCurrentLog inserts next and soft-deletes the previous current
	// entry (if any) in one transaction.
	ReplaceCurrentLog(ctx context.Context, sessionID string, next LogEntry) error

	// CurrentLogForCase returns the current log entry (of any session)
	// referencing the case, if one exists. A paused case has none.
	CurrentLogForCase(ctx context.Context, caseID string) (LogEntry, bool, error)

	// ListOpenSessions returns sessions that have not ended.
	ListOpenSessions(ctx context.Context) ([]AgentSession, error)
}
