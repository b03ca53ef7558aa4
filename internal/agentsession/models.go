// Package agentsession owns the agent side of the service center: who is
// logged in, what they may receive, and the append-only status log that
// records every transition.
package agentsession

import (
	"errors"
	"fmt"
	"time"
)

// Status is what an agent session is currently doing.
type Status string

const (
	// StatusAwaitingCase: idle, eligible for automatic assignment.
	StatusAwaitingCase Status = "AWAITING_CASE"
	// StatusHandleCase: actively working a case.
	StatusHandleCase Status = "HANDLE_CASE"
	// StatusManualQueue: idle, picks cases by hand only.
	StatusManualQueue Status = "MANUAL_QUEUE"
)

// AgentSession is one service-desk login of an agent on a phone device.
//
// Invariant: Priority is required iff AutomaticallyAssignCase is on. The
// scheduler orders idle sessions by it; a manual-queue session must not
// carry one. Enforced at construction and on every update.
type AgentSession struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	PhoneDeviceID string `json:"phone_device_id"`

	AutomaticallyAssignCase bool `json:"automatically_assign_case"`
	Priority                *int `json:"priority,omitempty"`

	WorkGroups []string `json:"work_groups"`

	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

var (
	ErrNotFound          = errors.New("agentsession: not found")
	ErrSessionEnded      = errors.New("agentsession: session already ended")
	ErrPriorityRequired  = errors.New("agentsession: priority required when automatic assignment is enabled")
	ErrPriorityForbidden = errors.New("agentsession: priority must not be set when automatic assignment is disabled")

	ErrTelephonyAlreadyAttached = errors.New("agentsession: telephony session already attached")
	ErrTelephonyNotAttached     = errors.New("agentsession: no telephony session attached")
)

func (s AgentSession) Validate() error {
	if s.ID == "" {
		return errors.New("agentsession: id required")
	}
	if s.UserID == "" {
		return errors.New("agentsession: user_id required")
	}
	if s.PhoneDeviceID == "" {
		return errors.New("agentsession: phone_device_id required")
	}
	if s.AutomaticallyAssignCase && s.Priority == nil {
		return ErrPriorityRequired
	}
	if !s.AutomaticallyAssignCase && s.Priority != nil {
		return ErrPriorityForbidden
	}
	return nil
}

func (s AgentSession) Ended() bool { return s.EndedAt != nil }

// InWorkGroup reports whether this session may receive cases of the group.
func (s AgentSession) InWorkGroup(group string) bool {
	for _, g := range s.WorkGroups {
		if g == group {
			return true
		}
	}
	return false
}

// LogEntry is one row of a session's append-only status log. The current
// status/case/telephony triple is always the latest non-deleted entry;
// entries are superseded by inserting a successor and soft-deleting the
// predecessor in the same transaction, never edited in place.
type LogEntry struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`

	CaseID             string `json:"case_id,omitempty"`
	TelephonySessionID string `json:"telephony_session_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// BlockedByCasesError reports an EndSession attempt while cases are still
// assigned. The IDs are part of the error so the caller can offer a forced
// close of exactly those cases.
type BlockedByCasesError struct {
	SessionID string
	CaseIDs   []string
}

func (e *BlockedByCasesError) Error() string {
	return fmt.Sprintf("agentsession: session %s still has %d assigned case(s): %v", e.SessionID, len(e.CaseIDs), e.CaseIDs)
}
