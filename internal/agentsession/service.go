package agentsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"servicecenter-platform/internal/locking"

	"github.com/google/uuid"
)

// AssignedCaseSource answers which open cases are currently assigned to a
// session. Implemented by the case subsystem; kept as an interface here so
// this package never depends on it.
type AssignedCaseSource interface {
	AssignedOpenCaseIDs(ctx context.Context, sessionID string) ([]string, error)
}

// CaseReleaser closes or unassigns a single case on behalf of a forced
// session end. Implemented by the case subsystem.
type CaseReleaser interface {
	ForceRelease(ctx context.Context, caseID string) error
}

// Service drives the agent session lifecycle. Every status change goes
// through the append-only log; the session row itself only ever changes its
// assignment settings and its ended marker.
type Service struct {
	repo  Repository
	cases AssignedCaseSource
	locks locking.Locking
	clock func() time.Time
}

func NewService(repo Repository, cases AssignedCaseSource, locks locking.Locking) *Service {
	return &Service{repo: repo, cases: cases, locks: locks, clock: time.Now}
}

type StartSessionParams struct {
	UserID        string
	PhoneDeviceID string

	AutomaticallyAssignCase bool
	Priority                *int
	WorkGroups              []string
}

// StartSession creates the session and its first log entry. The initial
// status follows the assignment mode: auto-assign sessions start awaiting a
// case, manual ones start in the manual queue.
func (s *Service) StartSession(ctx context.Context, p StartSessionParams) (AgentSession, error) {
	now := s.clock().UTC()
	session := AgentSession{
		ID:                      uuid.NewString(),
		UserID:                  p.UserID,
		PhoneDeviceID:           p.PhoneDeviceID,
		AutomaticallyAssignCase: p.AutomaticallyAssignCase,
		Priority:                p.Priority,
		WorkGroups:              p.WorkGroups,
		CreatedAt:               now,
	}
	if err := session.Validate(); err != nil {
		return AgentSession{}, err
	}
	if err := s.repo.InsertSession(ctx, session); err != nil {
		return AgentSession{}, err
	}

	status := StatusManualQueue
	if session.AutomaticallyAssignCase {
		status = StatusAwaitingCase
	}
	entry := LogEntry{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Status:    status,
		CreatedAt: now,
	}
	if err := s.repo.ReplaceCurrentLog(ctx, session.ID, entry); err != nil {
		return AgentSession{}, err
	}
	return session, nil
}

// EndSession ends the session, which requires zero currently assigned
// cases. A session with assigned cases yields a *BlockedByCasesError naming
// them; nothing is changed in that case.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	return s.locks.WithExclusiveLock(ctx, locking.SessionKey(sessionID), func(ctx context.Context) error {
		return s.endLocked(ctx, sessionID)
	})
}

func (s *Service) endLocked(ctx context.Context, sessionID string) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Ended() {
		return ErrSessionEnded
	}
	assigned, err := s.cases.AssignedOpenCaseIDs(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(assigned) > 0 {
		return &BlockedByCasesError{SessionID: sessionID, CaseIDs: assigned}
	}
	return s.repo.EndSession(ctx, sessionID)
}

// ForceEndSession is the privileged variant: it releases every blocking
// case through the releaser, then ends the session. Releasing runs outside
// the session lock (the releaser takes the case lock and then this
// session's lock itself); EndSession re-checks the assigned set under the
// lock, so a case assigned in between triggers another release pass.
func (s *Service) ForceEndSession(ctx context.Context, sessionID string, releaser CaseReleaser) error {
	if releaser == nil {
		return errors.New("agentsession: releaser required for forced end")
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		assigned, err := s.cases.AssignedOpenCaseIDs(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, caseID := range assigned {
			if err := releaser.ForceRelease(ctx, caseID); err != nil {
				return fmt.Errorf("release case %s: %w", caseID, err)
			}
		}
		err = s.EndSession(ctx, sessionID)
		var blocked *BlockedByCasesError
		if errors.As(err, &blocked) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("agentsession: forced end of session %s kept racing new assignments: %w", sessionID, lastErr)
}

// AttachTelephony links a telephony session to the agent session. Attaching
// while one is already linked is a caller bug and fails.
func (s *Service) AttachTelephony(ctx context.Context, sessionID, telephonySessionID string) error {
	if telephonySessionID == "" {
		return errors.New("agentsession: telephony session id required")
	}
	return s.locks.WithExclusiveLock(ctx, locking.SessionKey(sessionID), func(ctx context.Context) error {
		current, ok, err := s.currentOpenLog(ctx, sessionID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: session %s has no current log entry", ErrNotFound, sessionID)
		}
		if current.TelephonySessionID != "" {
			return fmt.Errorf("%w: session %s already on %s", ErrTelephonyAlreadyAttached, sessionID, current.TelephonySessionID)
		}
		next := s.successor(current)
		next.TelephonySessionID = telephonySessionID
		return s.repo.ReplaceCurrentLog(ctx, sessionID, next)
	})
}

// DetachTelephony removes the telephony link. Detaching with none attached
// is equally a caller bug.
func (s *Service) DetachTelephony(ctx context.Context, sessionID string) error {
	return s.locks.WithExclusiveLock(ctx, locking.SessionKey(sessionID), func(ctx context.Context) error {
		current, ok, err := s.currentOpenLog(ctx, sessionID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: session %s has no current log entry", ErrNotFound, sessionID)
		}
		if current.TelephonySessionID == "" {
			return fmt.Errorf("%w: session %s", ErrTelephonyNotAttached, sessionID)
		}
		next := s.successor(current)
		next.TelephonySessionID = ""
		return s.repo.ReplaceCurrentLog(ctx, sessionID, next)
	})
}

// SetAutomaticAssignment toggles the assignment mode, re-validating the
// priority invariant. An idle session's status follows the mode.
func (s *Service) SetAutomaticAssignment(ctx context.Context, sessionID string, enabled bool, priority *int) error {
	return s.locks.WithExclusiveLock(ctx, locking.SessionKey(sessionID), func(ctx context.Context) error {
		session, err := s.repo.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Ended() {
			return ErrSessionEnded
		}
		session.AutomaticallyAssignCase = enabled
		session.Priority = priority
		if err := session.Validate(); err != nil {
			return err
		}
		if err := s.repo.UpdateSession(ctx, session); err != nil {
			return err
		}

		current, ok, err := s.repo.CurrentLog(ctx, sessionID)
		if err != nil || !ok {
			return err
		}
		switch {
		case enabled && current.Status == StatusManualQueue:
			next := s.successor(current)
			next.Status = StatusAwaitingCase
			return s.repo.ReplaceCurrentLog(ctx, sessionID, next)
		case !enabled && current.Status == StatusAwaitingCase:
			next := s.successor(current)
			next.Status = StatusManualQueue
			return s.repo.ReplaceCurrentLog(ctx, sessionID, next)
		}
		return nil
	})
}

// Transition appends a new log entry with the given status and case,
// superseding the current one. The telephony link carries over unchanged.
// Callers are expected to hold the relevant entity locks already.
func (s *Service) Transition(ctx context.Context, sessionID string, status Status, caseID string) error {
	current, ok, err := s.currentOpenLog(ctx, sessionID)
	if err != nil {
		return err
	}
	next := LogEntry{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status:    status,
		CaseID:    caseID,
		CreatedAt: s.clock().UTC(),
	}
	if ok {
		next.TelephonySessionID = current.TelephonySessionID
	}
	return s.repo.ReplaceCurrentLog(ctx, sessionID, next)
}

// Current returns the session's current log entry.
func (s *Service) Current(ctx context.Context, sessionID string) (LogEntry, error) {
	entry, ok, err := s.repo.CurrentLog(ctx, sessionID)
	if err != nil {
		return LogEntry{}, err
	}
	if !ok {
		return LogEntry{}, fmt.Errorf("%w: session %s has no current log entry", ErrNotFound, sessionID)
	}
	return entry, nil
}

// Get returns the session row.
func (s *Service) Get(ctx context.Context, sessionID string) (AgentSession, error) {
	return s.repo.GetSession(ctx, sessionID)
}

func (s *Service) currentOpenLog(ctx context.Context, sessionID string) (LogEntry, bool, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return LogEntry{}, false, err
	}
	if session.Ended() {
		return LogEntry{}, false, ErrSessionEnded
	}
	return s.repo.CurrentLog(ctx, sessionID)
}

func (s *Service) successor(current LogEntry) LogEntry {
	return LogEntry{
		ID:                 uuid.NewString(),
		SessionID:          current.SessionID,
		Status:             current.Status,
		CaseID:             current.CaseID,
		TelephonySessionID: current.TelephonySessionID,
		CreatedAt:          s.clock().UTC(),
	}
}
