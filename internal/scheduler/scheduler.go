// Package scheduler matches queued cases to available agent sessions.
//
// A sweep runs three ordered phases: interactive cases first, then resuming
// paused cases whose agent became free, then passive cases. A sweep as a
// whole is not atomic; individual case transitions are, under that case's
// exclusive lock. Concurrent sweeps and interrupted sweeps are safe:
// whatever one sweep does not finish, the next one picks up.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"servicecenter-platform/internal/agentsession"
	"servicecenter-platform/internal/cases"
	"servicecenter-platform/internal/locking"
)

// QueuedCase is the slice of a case the matcher needs.
type QueuedCase struct {
	CaseID    string
	WorkGroup string
}

// PausedCase names a paused case and the agent it belongs to.
type PausedCase struct {
	CaseID                 string
	AssignedAgentSessionID string
}

// CaseQueueSource supplies the sweep's case lists, already filtered and
// ordered by priority (nulls last). Ordering is the source's contract; the
// sweep consumes lists front to back.
type CaseQueueSource interface {
	AssignableInteractiveCasesByPriority(ctx context.Context) ([]QueuedCase, error)
	AssignablePassiveCasesByPriority(ctx context.Context) ([]QueuedCase, error)
	PausedCases(ctx context.Context) ([]PausedCase, error)

	// IsInteractive reports whether the case is currently tied to a live
	// inbound call. Preemption consults it: only non-interactive work may
	// be paused away from an agent.
	IsInteractive(ctx context.Context, caseID string) (bool, error)
}

// AgentSessionSource supplies the candidate pools. Interactive candidates
// may include agents currently on a non-interactive case (they are
// preempted); passive candidates are idle, awaiting sessions only.
type AgentSessionSource interface {
	FindAvailableForInteractiveAssignment(ctx context.Context) ([]agentsession.AgentSession, error)
	FindAvailableForPassiveAssignment(ctx context.Context) ([]agentsession.AgentSession, error)
}

// AssignmentHistory answers the idempotent-reassignment guard: a session
// that ever held a case is never matched to it again, so unassignment
// cannot flap a case back onto the same agent.
type AssignmentHistory interface {
	WasEverAssigned(ctx context.Context, caseID, sessionID string) (bool, error)
}

// Summary reports what one sweep did.
type Summary struct {
	InteractiveAssigned int `json:"interactive_assigned"`
	Resumed             int `json:"resumed"`
	PassiveAssigned     int `json:"passive_assigned"`
	Skipped             int `json:"skipped"`
}

type Scheduler struct {
	queue    CaseQueueSource
	pool     AgentSessionSource
	history  AssignmentHistory
	cases    *cases.Service
	sessions *agentsession.Service
}

func New(queue CaseQueueSource, pool AgentSessionSource, history AssignmentHistory, caseSvc *cases.Service, sessionSvc *agentsession.Service) *Scheduler {
	return &Scheduler{queue: queue, pool: pool, history: history, cases: caseSvc, sessions: sessionSvc}
}

// Sweep runs the three phases once. Lock contention and lost races are
// counted as skips, not failures; the affected cases surface again on the
// next trigger.
func (s *Scheduler) Sweep(ctx context.Context) (Summary, error) {
	var sum Summary

	if err := s.assignPhase(ctx, true, &sum); err != nil {
		return sum, fmt.Errorf("interactive phase: %w", err)
	}
	if err := s.resumePhase(ctx, &sum); err != nil {
		return sum, fmt.Errorf("resume phase: %w", err)
	}
	if err := s.assignPhase(ctx, false, &sum); err != nil {
		return sum, fmt.Errorf("passive phase: %w", err)
	}
	return sum, nil
}

func (s *Scheduler) assignPhase(ctx context.Context, interactive bool, sum *Summary) error {
	var (
		queued []QueuedCase
		pool   []agentsession.AgentSession
		err    error
	)
	if interactive {
		queued, err = s.queue.AssignableInteractiveCasesByPriority(ctx)
	} else {
		queued, err = s.queue.AssignablePassiveCasesByPriority(ctx)
	}
	if err != nil {
		return err
	}
	if interactive {
		pool, err = s.pool.FindAvailableForInteractiveAssignment(ctx)
	} else {
		pool, err = s.pool.FindAvailableForPassiveAssignment(ctx)
	}
	if err != nil {
		return err
	}

	for _, qc := range queued {
		idx, err := s.firstMatch(ctx, qc, pool)
		if err != nil {
			return err
		}
		if idx < 0 {
			continue
		}
		candidate := pool[idx]

		err = s.startOn(ctx, qc.CaseID, candidate, interactive)
		switch {
		case err == nil:
			if interactive {
				sum.InteractiveAssigned++
			} else {
				sum.PassiveAssigned++
			}
			// The winning candidate leaves the pool for the rest of
			// this sweep.
			pool = append(pool[:idx], pool[idx+1:]...)
		case isSkippable(err):
			sum.Skipped++
		default:
			return err
		}
	}
	return nil
}

// firstMatch scans the pool in order and returns the index of the first
// candidate whose work groups cover the case and who never held it before.
func (s *Scheduler) firstMatch(ctx context.Context, qc QueuedCase, pool []agentsession.AgentSession) (int, error) {
	for i, candidate := range pool {
		if !candidate.InWorkGroup(qc.WorkGroup) {
			continue
		}
		held, err := s.history.WasEverAssigned(ctx, qc.CaseID, candidate.ID)
		if err != nil {
			return -1, err
		}
		if held {
			continue
		}
		return i, nil
	}
	return -1, nil
}

// startOn starts the case on the candidate. An interactive case preempts
// the candidate's current non-interactive case: that case is paused first.
// This is the only path by which the scheduler pauses a case rather than
// closing or unassigning it. An agent whose current case is itself live is
// never preempted; that surfaces as a busy skip.
func (s *Scheduler) startOn(ctx context.Context, caseID string, candidate agentsession.AgentSession, interactive bool) error {
	if interactive {
		log, err := s.sessions.Current(ctx, candidate.ID)
		if err != nil {
			return err
		}
		if log.Status == agentsession.StatusHandleCase && log.CaseID != "" {
			live, err := s.queue.IsInteractive(ctx, log.CaseID)
			if err != nil {
				return err
			}
			if live {
				return fmt.Errorf("%w: session %s on live case %s", cases.ErrAgentBusy, candidate.ID, log.CaseID)
			}
			if err := s.cases.PauseCase(ctx, log.CaseID); err != nil {
				return err
			}
		}
	}
	return s.cases.StartCase(ctx, caseID, candidate.ID)
}

func (s *Scheduler) resumePhase(ctx context.Context, sum *Summary) error {
	paused, err := s.queue.PausedCases(ctx)
	if err != nil {
		return err
	}
	for _, pc := range paused {
		log, err := s.sessions.Current(ctx, pc.AssignedAgentSessionID)
		if err != nil {
			if errors.Is(err, agentsession.ErrNotFound) || errors.Is(err, agentsession.ErrSessionEnded) {
				continue
			}
			return err
		}
		if log.Status != agentsession.StatusAwaitingCase {
			continue
		}
		err = s.cases.ResumeCase(ctx, pc.CaseID)
		switch {
		case err == nil:
			sum.Resumed++
		case isSkippable(err):
			sum.Skipped++
		default:
			return err
		}
	}
	return nil
}

// isSkippable marks the lost races of an at-least-once sweep: somebody
// else holds the lock or already moved the case/agent. The next sweep sees
// the fresh state.
func isSkippable(err error) bool {
	return errors.Is(err, locking.ErrLocked) ||
		errors.Is(err, cases.ErrCaseAlreadyAssigned) ||
		errors.Is(err, cases.ErrCaseNotPaused) ||
		errors.Is(err, cases.ErrCaseClosed) ||
		errors.Is(err, cases.ErrAgentBusy) ||
		errors.Is(err, cases.ErrAgentOnCall)
}
