package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information for privileged operations
// (forced session ends, reassignments, manual sweep triggers).
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to agents by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogForceEndSession records a privileged forced session end.
func (s *Service) LogForceEndSession(ctx context.Context, actorUserID, actorRole, ip, sessionID, message string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeForceEndSession,
		ActorUserID:    actorUserID,
		ActorRole:      actorRole,
		IPAddress:      ip,
		AgentSessionID: sessionID,
		Message:        message,
	})
}

// LogReassign records a privileged case reassignment.
func (s *Service) LogReassign(ctx context.Context, actorUserID, actorRole, ip, caseID, sessionID string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeReassignCase,
		ActorUserID:    actorUserID,
		ActorRole:      actorRole,
		IPAddress:      ip,
		CaseID:         caseID,
		AgentSessionID: sessionID,
	})
}

// LogSweep records who triggered an assignment sweep and what it did.
func (s *Service) LogSweep(ctx context.Context, actorUserID, actorRole, ip, summary string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeSweepTriggered,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Metadata:    summary,
	})
}
