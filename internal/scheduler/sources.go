package scheduler

import (
	"context"
	"sort"

	"servicecenter-platform/internal/agentsession"
	"servicecenter-platform/internal/cases"
	"servicecenter-platform/internal/telephony"
)

// RepoSources implements the sweep's source contracts on top of the
// repositories. Deployments with a dedicated queue store can swap in their
// own implementation; the scheduler only sees the interfaces.
type RepoSources struct {
	Cases    cases.Repository
	Sessions agentsession.Repository
	Events   telephony.EventSource
}

func (s *RepoSources) AssignableInteractiveCasesByPriority(ctx context.Context) ([]QueuedCase, error) {
	return s.queuedCases(ctx, true)
}

func (s *RepoSources) AssignablePassiveCasesByPriority(ctx context.Context) ([]QueuedCase, error) {
	return s.queuedCases(ctx, false)
}

type queuedCandidate struct {
	QueuedCase
	priority *int
	order    int64
}

func (s *RepoSources) queuedCases(ctx context.Context, interactive bool) ([]QueuedCase, error) {
	queue, err := s.Cases.ListQueue(ctx)
	if err != nil {
		return nil, err
	}

	var list []queuedCandidate
	for _, q := range queue {
		entry, ok, err := s.Cases.CurrentEntry(ctx, q.CaseID)
		if err != nil {
			return nil, err
		}
		if !ok || entry.Assigned() {
			continue
		}
		live, err := s.isInteractive(ctx, entry)
		if err != nil {
			return nil, err
		}
		if live != interactive {
			continue
		}
		list = append(list, queuedCandidate{
			QueuedCase: QueuedCase{CaseID: q.CaseID, WorkGroup: entry.WorkGroup},
			priority:   q.Priority,
			order:      q.CreatedAt.UnixNano(),
		})
	}

	// Priority ascending, nulls last; creation order breaks ties.
	sort.SliceStable(list, func(i, j int) bool {
		pi, pj := list[i].priority, list[j].priority
		switch {
		case pi == nil && pj == nil:
			return list[i].order < list[j].order
		case pi == nil:
			return false
		case pj == nil:
			return true
		case *pi != *pj:
			return *pi < *pj
		default:
			return list[i].order < list[j].order
		}
	})

	out := make([]QueuedCase, len(list))
	for i, c := range list {
		out[i] = c.QueuedCase
	}
	return out, nil
}

// IsInteractive reports whether the case's current entry is tied to a live
// inbound call. A case with no current entry is not interactive.
func (s *RepoSources) IsInteractive(ctx context.Context, caseID string) (bool, error) {
	entry, ok, err := s.Cases.CurrentEntry(ctx, caseID)
	if err != nil || !ok {
		return false, err
	}
	return s.isInteractive(ctx, entry)
}

// isInteractive: the case is tied to a live inbound call that is ringing
// or answered. Everything else waits in the passive phase.
func (s *RepoSources) isInteractive(ctx context.Context, entry cases.Entry) (bool, error) {
	if entry.TelephonySessionID == "" || s.Events == nil {
		return false, nil
	}
	history, err := s.Events.EventHistory(ctx, entry.TelephonySessionID)
	if err != nil {
		return false, err
	}
	st, err := telephony.Project(entry.TelephonySessionID, history)
	if err != nil {
		return false, err
	}
	for _, ch := range st.Channels {
		if ch.Direction != telephony.DirectionInbound {
			continue
		}
		if ch.State == telephony.DerivedRinging || ch.State == telephony.DerivedAnswered {
			return true, nil
		}
	}
	return false, nil
}

func (s *RepoSources) PausedCases(ctx context.Context) ([]PausedCase, error) {
	open, err := s.Cases.ListOpenAssignedCases(ctx)
	if err != nil {
		return nil, err
	}
	var out []PausedCase
	for _, c := range open {
		if _, handled, err := s.Sessions.CurrentLogForCase(ctx, c.ID); err != nil {
			return nil, err
		} else if handled {
			continue
		}
		entry, ok, err := s.Cases.CurrentEntry(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, PausedCase{CaseID: c.ID, AssignedAgentSessionID: entry.AssignedAgentSessionID})
	}
	return out, nil
}

func (s *RepoSources) FindAvailableForInteractiveAssignment(ctx context.Context) ([]agentsession.AgentSession, error) {
	// Interactive work may preempt: agents on a non-interactive case stay
	// in the pool, behind the idle ones. Agents whose current case is
	// itself live are untouchable.
	return s.availableSessions(ctx, func(ctx context.Context, log agentsession.LogEntry) (bool, error) {
		switch log.Status {
		case agentsession.StatusAwaitingCase:
			return true, nil
		case agentsession.StatusHandleCase:
			if log.CaseID == "" {
				return false, nil
			}
			live, err := s.IsInteractive(ctx, log.CaseID)
			return !live, err
		default:
			return false, nil
		}
	})
}

func (s *RepoSources) FindAvailableForPassiveAssignment(ctx context.Context) ([]agentsession.AgentSession, error) {
	return s.availableSessions(ctx, func(_ context.Context, log agentsession.LogEntry) (bool, error) {
		return log.Status == agentsession.StatusAwaitingCase, nil
	})
}

func (s *RepoSources) availableSessions(ctx context.Context, eligible func(context.Context, agentsession.LogEntry) (bool, error)) ([]agentsession.AgentSession, error) {
	open, err := s.Sessions.ListOpenSessions(ctx)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		session agentsession.AgentSession
		status  agentsession.Status
	}
	var list []candidate
	for _, session := range open {
		if !session.AutomaticallyAssignCase {
			continue
		}
		entry, ok, err := s.Sessions.CurrentLog(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		keep, err := eligible(ctx, entry)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		list = append(list, candidate{session: session, status: entry.Status})
	}

	// Idle before busy, then agent priority ascending.
	sort.SliceStable(list, func(i, j int) bool {
		if (list[i].status == agentsession.StatusAwaitingCase) != (list[j].status == agentsession.StatusAwaitingCase) {
			return list[i].status == agentsession.StatusAwaitingCase
		}
		return prio(list[i].session) < prio(list[j].session)
	})

	out := make([]agentsession.AgentSession, len(list))
	for i, c := range list {
		out[i] = c.session
	}
	return out, nil
}

func prio(s agentsession.AgentSession) int {
	if s.Priority == nil {
		return int(^uint(0) >> 1)
	}
	return *s.Priority
}
