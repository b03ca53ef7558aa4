package cases

import (
	"context"
	"fmt"
	"time"

	"servicecenter-platform/internal/agentsession"
	"servicecenter-platform/internal/locking"
	"servicecenter-platform/internal/telephony"

	"github.com/google/uuid"
)

// AgentLogView is the slice of the agent-log contract this package needs:
// finding the current log entry (if any) that references a case.
type AgentLogView interface {
	CurrentLogForCase(ctx context.Context, caseID string) (agentsession.LogEntry, bool, error)
}

// Service drives the case lifecycle. Every mutation of a case runs under
// that case's exclusive lock; state is re-checked inside the lock so a
// stale read outside it can never double-apply a transition.
//
// Operations that also flip an agent's log additionally take that
// session's lock around the busy check and the transition. Lock order is
// case first, session second; both locks are non-blocking, so a holder in
// the opposite order surfaces as ErrLocked, never as a deadlock.
type Service struct {
	repo     Repository
	sessions *agentsession.Service
	agentLog AgentLogView
	events   telephony.EventSource
	locks    locking.Locking
	clock    func() time.Time
}

func NewService(repo Repository, sessions *agentsession.Service, agentLog AgentLogView, events telephony.EventSource, locks locking.Locking) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		agentLog: agentLog,
		events:   events,
		locks:    locks,
		clock:    time.Now,
	}
}

type CreateCaseParams struct {
	Source             Source
	CaseType           string
	WorkGroup          string
	TelephonySessionID string
	Priority           *int
}

// CreateCase creates an unassigned, queued case. The source is fixed here
// for good.
func (s *Service) CreateCase(ctx context.Context, p CreateCaseParams) (Case, error) {
	if !p.Source.Valid() {
		return Case{}, fmt.Errorf("%w: source %q", ErrInvalidArgument, p.Source)
	}
	if p.WorkGroup == "" {
		return Case{}, fmt.Errorf("%w: work group required", ErrInvalidArgument)
	}

	now := s.clock().UTC()
	c := Case{ID: uuid.NewString(), Source: p.Source, CreatedAt: now}
	if err := s.repo.InsertCase(ctx, c); err != nil {
		return Case{}, err
	}

	entry := Entry{
		ID:                 uuid.NewString(),
		CaseID:             c.ID,
		CaseType:           p.CaseType,
		WorkGroup:          p.WorkGroup,
		TelephonySessionID: p.TelephonySessionID,
		CreatedAt:          now,
	}
	if err := s.repo.ReplaceCurrentEntry(ctx, c.ID, entry); err != nil {
		return Case{}, err
	}

	q := QueueEntry{ID: uuid.NewString(), CaseID: c.ID, Priority: p.Priority, CreatedAt: now}
	if err := s.repo.Enqueue(ctx, q); err != nil {
		return Case{}, err
	}
	return c, nil
}

// StartCase assigns the case to an agent session and begins work on it.
// Assignment state is re-checked under the case lock: of any number of
// concurrent starters exactly one wins, the rest see the case assigned.
func (s *Service) StartCase(ctx context.Context, caseID, sessionID string) error {
	return s.locks.WithExclusiveLock(ctx, locking.CaseKey(caseID), func(ctx context.Context) error {
		return s.startLocked(ctx, caseID, sessionID)
	})
}

func (s *Service) startLocked(ctx context.Context, caseID, sessionID string) error {
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c.IsClosed() {
		return fmt.Errorf("%w: %s", ErrCaseClosed, caseID)
	}
	entry, ok, err := s.repo.CurrentEntry(ctx, caseID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: case %s has no current entry", ErrNotFound, caseID)
	}
	if entry.Assigned() {
		return fmt.Errorf("%w: %s held by %s", ErrCaseAlreadyAssigned, caseID, entry.AssignedAgentSessionID)
	}

	// The idle check and the HANDLE_CASE transition must not be separable:
	// without the session lock two starts for different cases could both
	// see the agent idle and double-book them.
	return s.locks.WithExclusiveLock(ctx, locking.SessionKey(sessionID), func(ctx context.Context) error {
		session, err := s.sessions.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Ended() {
			return agentsession.ErrSessionEnded
		}
		log, err := s.sessions.Current(ctx, sessionID)
		if err != nil {
			return err
		}
		if log.Status == agentsession.StatusHandleCase {
			return fmt.Errorf("%w: session %s on case %s", ErrAgentBusy, sessionID, log.CaseID)
		}
		if log.TelephonySessionID != "" {
			return fmt.Errorf("%w: session %s on %s", ErrAgentOnCall, sessionID, log.TelephonySessionID)
		}

		now := s.clock().UTC()
		if c.StartedAt == nil {
			c.StartedAt = &now
			if err := s.repo.UpdateCase(ctx, c); err != nil {
				return err
			}
		}

		next := s.successor(entry)
		next.AssignedAgentSessionID = sessionID
		if err := s.repo.ReplaceCurrentEntry(ctx, caseID, next); err != nil {
			return err
		}
		if err := s.repo.Dequeue(ctx, caseID); err != nil {
			return err
		}
		return s.sessions.Transition(ctx, sessionID, agentsession.StatusHandleCase, caseID)
	})
}

// PauseCase detaches the agent's attention from the case without touching
// the assignment: the agent's log moves to its idle status, the case entry
// keeps the agent. Pausing a case that is not actively handled is a no-op.
func (s *Service) PauseCase(ctx context.Context, caseID string) error {
	return s.locks.WithExclusiveLock(ctx, locking.CaseKey(caseID), func(ctx context.Context) error {
		return s.pauseLocked(ctx, caseID)
	})
}

func (s *Service) pauseLocked(ctx context.Context, caseID string) error {
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c.IsClosed() {
		return fmt.Errorf("%w: %s", ErrCaseClosed, caseID)
	}
	entry, ok, err := s.repo.CurrentEntry(ctx, caseID)
	if err != nil {
		return err
	}
	if !ok || !entry.Assigned() {
		return fmt.Errorf("%w: %s", ErrCaseNotAssigned, caseID)
	}
	// A case with no handling log entry is already paused; releaseHolder
	// no-ops then.
	return s.releaseHolder(ctx, caseID)
}

// ResumeCase re-establishes the link between a paused case and its
// assigned agent, bypassing the queue.
func (s *Service) ResumeCase(ctx context.Context, caseID string) error {
	return s.locks.WithExclusiveLock(ctx, locking.CaseKey(caseID), func(ctx context.Context) error {
		c, err := s.repo.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.IsClosed() {
			return fmt.Errorf("%w: %s", ErrCaseClosed, caseID)
		}
		entry, ok, err := s.repo.CurrentEntry(ctx, caseID)
		if err != nil {
			return err
		}
		if !ok || !entry.Assigned() {
			return fmt.Errorf("%w: %s", ErrCaseNotAssigned, caseID)
		}
		if _, handled, err := s.agentLog.CurrentLogForCase(ctx, caseID); err != nil {
			return err
		} else if handled {
			return fmt.Errorf("%w: %s", ErrCaseNotPaused, caseID)
		}

		sessionID := entry.AssignedAgentSessionID
		return s.locks.WithExclusiveLock(ctx, locking.SessionKey(sessionID), func(ctx context.Context) error {
			log, err := s.sessions.Current(ctx, sessionID)
			if err != nil {
				return err
			}
			if log.Status != agentsession.StatusAwaitingCase {
				return fmt.Errorf("%w: session %s is %s", ErrAgentBusy, sessionID, log.Status)
			}
			return s.sessions.Transition(ctx, sessionID, agentsession.StatusHandleCase, caseID)
		})
	})
}

// CloseCase closes the case and returns its handling agent (if any) to the
// idle status matching their assignment mode.
func (s *Service) CloseCase(ctx context.Context, caseID string) error {
	return s.locks.WithExclusiveLock(ctx, locking.CaseKey(caseID), func(ctx context.Context) error {
		return s.closeLocked(ctx, caseID)
	})
}

func (s *Service) closeLocked(ctx context.Context, caseID string) error {
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c.IsClosed() {
		return fmt.Errorf("%w: %s", ErrCaseClosed, caseID)
	}
	// Holder first: if their session lock is contended nothing has
	// changed yet and the caller simply retries.
	if err := s.releaseHolder(ctx, caseID); err != nil {
		return err
	}
	now := s.clock().UTC()
	c.ClosedAt = &now
	if err := s.repo.UpdateCase(ctx, c); err != nil {
		return err
	}
	return s.repo.Dequeue(ctx, caseID)
}

// SetResult records the case outcome. Exactly one of the three result
// fields must be set, exactly once; a second attempt is a hard error.
func (s *Service) SetResult(ctx context.Context, caseID string, r Result) error {
	return s.locks.WithExclusiveLock(ctx, locking.CaseKey(caseID), func(ctx context.Context) error {
		if r.count() != 1 {
			return ErrResultMissing
		}
		c, err := s.repo.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.HasResult() {
			return fmt.Errorf("%w: %s", ErrResultAlreadySet, caseID)
		}
		c.ResultLeadID = r.LeadID
		c.ResultAppointmentID = r.AppointmentID
		c.GarbageReason = r.GarbageReason
		return s.repo.UpdateCase(ctx, c)
	})
}

// Unassign detaches the agent from the case after consulting the
// eligibility table. A denial surfaces as *UnassignDeniedError carrying the
// exact reason. An open case goes back into the queue.
func (s *Service) Unassign(ctx context.Context, caseID string) error {
	return s.locks.WithExclusiveLock(ctx, locking.CaseKey(caseID), func(ctx context.Context) error {
		entry, ok, err := s.repo.CurrentEntry(ctx, caseID)
		if err != nil {
			return err
		}
		if !ok || !entry.Assigned() {
			return fmt.Errorf("%w: %s", ErrCaseNotAssigned, caseID)
		}

		in, err := s.unassignInputs(ctx, caseID, entry)
		if err != nil {
			return err
		}
		if v := EvaluateUnassign(in); !v.Allowed {
			return &UnassignDeniedError{CaseID: caseID, Reason: v.Reason}
		}
		return s.detachLocked(ctx, caseID, entry, true)
	})
}

// ForceRelease frees a case on behalf of a forced session end: a case with
// a recorded result is closed, anything else is unassigned without the
// eligibility check. Privileged callers only.
func (s *Service) ForceRelease(ctx context.Context, caseID string) error {
	return s.locks.WithExclusiveLock(ctx, locking.CaseKey(caseID), func(ctx context.Context) error {
		c, err := s.repo.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if !c.IsClosed() && c.HasResult() {
			return s.closeLocked(ctx, caseID)
		}
		entry, ok, err := s.repo.CurrentEntry(ctx, caseID)
		if err != nil {
			return err
		}
		if !ok || !entry.Assigned() {
			return nil
		}
		return s.detachLocked(ctx, caseID, entry, !c.IsClosed())
	})
}

// Reassign moves an assigned case directly onto another agent session.
func (s *Service) Reassign(ctx context.Context, caseID, newSessionID string) error {
	return s.locks.WithExclusiveLock(ctx, locking.CaseKey(caseID), func(ctx context.Context) error {
		c, err := s.repo.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.IsClosed() {
			return fmt.Errorf("%w: %s", ErrCaseClosed, caseID)
		}
		entry, ok, err := s.repo.CurrentEntry(ctx, caseID)
		if err != nil {
			return err
		}
		if !ok || !entry.Assigned() {
			return fmt.Errorf("%w: %s", ErrCaseNotAssigned, caseID)
		}

		// Fail fast on an obviously unavailable target before the current
		// holder is released; the authoritative check repeats under the
		// target's session lock.
		if err := s.checkTargetFree(ctx, newSessionID); err != nil {
			return err
		}
		if err := s.releaseHolder(ctx, caseID); err != nil {
			return err
		}

		return s.locks.WithExclusiveLock(ctx, locking.SessionKey(newSessionID), func(ctx context.Context) error {
			if err := s.checkTargetFree(ctx, newSessionID); err != nil {
				return err
			}

			next := s.successor(entry)
			next.AssignedAgentSessionID = newSessionID
			if err := s.repo.ReplaceCurrentEntry(ctx, caseID, next); err != nil {
				return err
			}
			return s.sessions.Transition(ctx, newSessionID, agentsession.StatusHandleCase, caseID)
		})
	})
}

// State assembles the derived view of a case.
func (s *Service) State(ctx context.Context, caseID string) (State, error) {
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return State{}, err
	}
	entry, ok, err := s.repo.CurrentEntry(ctx, caseID)
	if err != nil {
		return State{}, err
	}
	if !ok {
		return State{}, fmt.Errorf("%w: case %s has no current entry", ErrNotFound, caseID)
	}
	queued, err := s.repo.IsQueued(ctx, caseID)
	if err != nil {
		return State{}, err
	}
	_, handled, err := s.agentLog.CurrentLogForCase(ctx, caseID)
	if err != nil {
		return State{}, err
	}

	st := State{Case: c, Entry: entry, Closed: c.IsClosed()}
	st.Assigned = entry.Assigned()
	st.Queued = !st.Assigned && !st.Closed && queued
	st.Paused = st.Assigned && !st.Closed && !handled
	return st, nil
}

// detachLocked clears the assignment; requeue restores the queue entry for
// a case that still needs an agent.
func (s *Service) detachLocked(ctx context.Context, caseID string, entry Entry, requeue bool) error {
	if err := s.releaseHolder(ctx, caseID); err != nil {
		return err
	}

	next := s.successor(entry)
	next.AssignedAgentSessionID = ""
	if err := s.repo.ReplaceCurrentEntry(ctx, caseID, next); err != nil {
		return err
	}
	if requeue {
		return s.repo.Enqueue(ctx, QueueEntry{
			ID:        uuid.NewString(),
			CaseID:    caseID,
			CreatedAt: s.clock().UTC(),
		})
	}
	return nil
}

// unassignInputs gathers the five guard facts. The telephony snapshot
// comes from the case's active session, falling back to the one the agent
// is on.
func (s *Service) unassignInputs(ctx context.Context, caseID string, entry Entry) (UnassignInputs, error) {
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return UnassignInputs{}, err
	}

	agentTelephony := ""
	if log, err := s.sessions.Current(ctx, entry.AssignedAgentSessionID); err == nil {
		agentTelephony = log.TelephonySessionID
	}

	telSessionID := entry.TelephonySessionID
	if telSessionID == "" {
		telSessionID = agentTelephony
	}

	snapshot := telephony.Inactive()
	if telSessionID != "" && s.events != nil {
		history, err := s.events.EventHistory(ctx, telSessionID)
		if err != nil {
			return UnassignInputs{}, err
		}
		snapshot, err = telephony.Project(telSessionID, history)
		if err != nil {
			return UnassignInputs{}, err
		}
	}

	return UnassignInputs{
		HasBeenAnsweredByAgent:    snapshot.HasAgentAnswered,
		HasAgentAnActiveChannel:   snapshot.HasActiveAgentChannel,
		HasCaseResult:             c.HasResult(),
		IsCaseClosed:              c.IsClosed(),
		HasActiveTelephonySession: entry.TelephonySessionID != "" || agentTelephony != "",
	}, nil
}

// checkTargetFree rejects a reassignment target that is on a case or on a
// call.
func (s *Service) checkTargetFree(ctx context.Context, sessionID string) error {
	target, err := s.sessions.Current(ctx, sessionID)
	if err != nil {
		return err
	}
	if target.Status == agentsession.StatusHandleCase {
		return fmt.Errorf("%w: session %s on case %s", ErrAgentBusy, sessionID, target.CaseID)
	}
	if target.TelephonySessionID != "" {
		return fmt.Errorf("%w: session %s on %s", ErrAgentOnCall, sessionID, target.TelephonySessionID)
	}
	return nil
}

// releaseHolder idles the session currently handling the case, if any.
// The handling check is re-read under the holder's session lock so the
// idle transition cannot race a concurrent assignment on that session.
func (s *Service) releaseHolder(ctx context.Context, caseID string) error {
	logEntry, handled, err := s.agentLog.CurrentLogForCase(ctx, caseID)
	if err != nil || !handled {
		return err
	}
	return s.locks.WithExclusiveLock(ctx, locking.SessionKey(logEntry.SessionID), func(ctx context.Context) error {
		current, handled, err := s.agentLog.CurrentLogForCase(ctx, caseID)
		if err != nil || !handled {
			return err
		}
		idle, err := s.idleStatus(ctx, current.SessionID)
		if err != nil {
			return err
		}
		return s.sessions.Transition(ctx, current.SessionID, idle, "")
	})
}

// idleStatus is where a session goes when it stops handling a case.
func (s *Service) idleStatus(ctx context.Context, sessionID string) (agentsession.Status, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session.AutomaticallyAssignCase {
		return agentsession.StatusAwaitingCase, nil
	}
	return agentsession.StatusManualQueue, nil
}

func (s *Service) successor(entry Entry) Entry {
	return Entry{
		ID:                 uuid.NewString(),
		CaseID:             entry.CaseID,
		CaseType:           entry.CaseType,
		WorkGroup:          entry.WorkGroup,
		TelephonySessionID: entry.TelephonySessionID,
		CreatedAt:          s.clock().UTC(),
	}
}
