// Package cases owns service-center cases: their lifecycle, their queue
// position, their versioned assignment entries and the rules deciding when
// an agent may be detached from one.
package cases

import (
	"errors"
	"time"
)

// Source is what produced a case. It is fixed at creation and never
// changes.
type Source string

const (
	SourceTelephonySession Source = "telephony_session"
	SourceLead             Source = "lead"
	SourceAppointment      Source = "appointment"
	SourceQuoteFollowUp    Source = "quote_follow_up"
	SourceExternalRequest  Source = "external_request"
)

func (s Source) Valid() bool {
	switch s {
	case SourceTelephonySession, SourceLead, SourceAppointment, SourceQuoteFollowUp, SourceExternalRequest:
		return true
	default:
		return false
	}
}

// Case is the root record. Assignment and work-group data live in the
// versioned current entry, not here; the case row carries only what is
// set once (source, result) or monotonic (startedAt, closedAt).
//
// Result invariant: at most one of ResultLeadID, ResultAppointmentID and
// GarbageReason is non-empty, set exactly once, immutable afterwards.
type Case struct {
	ID     string `json:"id"`
	Source Source `json:"source"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	ResultLeadID        string `json:"result_lead_id,omitempty"`
	ResultAppointmentID string `json:"result_appointment_id,omitempty"`
	GarbageReason       string `json:"garbage_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (c Case) IsClosed() bool { return c.ClosedAt != nil }

func (c Case) HasResult() bool {
	return c.ResultLeadID != "" || c.ResultAppointmentID != "" || c.GarbageReason != ""
}

// Entry is one version of a case's mutable assignment state. The current
// entry is the latest non-deleted one; updates insert a successor and
// soft-delete the predecessor in the same transaction.
//
// A paused case keeps its AssignedAgentSessionID here while no agent log
// entry references the case; that split is what makes "pause" representable
// without losing history.
type Entry struct {
	ID     string `json:"id"`
	CaseID string `json:"case_id"`

	CaseType  string `json:"case_type"`
	WorkGroup string `json:"work_group"`

	TelephonySessionID     string `json:"telephony_session_id,omitempty"`
	AssignedAgentSessionID string `json:"assigned_agent_session_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (e Entry) Assigned() bool { return e.AssignedAgentSessionID != "" }

// QueueEntry exists while a case waits for an agent. It is removed the
// instant an agent starts the case.
type QueueEntry struct {
	ID     string `json:"id"`
	CaseID string `json:"case_id"`

	// Priority orders the queue; nil sorts last.
	Priority *int `json:"priority,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Result is the terminal outcome of a case: exactly one of the three
// fields must be set.
type Result struct {
	LeadID        string `json:"lead_id,omitempty"`
	AppointmentID string `json:"appointment_id,omitempty"`
	GarbageReason string `json:"garbage_reason,omitempty"`
}

func (r Result) count() int {
	n := 0
	if r.LeadID != "" {
		n++
	}
	if r.AppointmentID != "" {
		n++
	}
	if r.GarbageReason != "" {
		n++
	}
	return n
}

// State is the derived view of a case, computed on read.
type State struct {
	Case  Case  `json:"case"`
	Entry Entry `json:"entry"`

	Assigned bool `json:"assigned"`
	Queued   bool `json:"queued"`
	Paused   bool `json:"paused"`
	Closed   bool `json:"closed"`
}

var (
	ErrNotFound            = errors.New("cases: not found")
	ErrInvalidArgument     = errors.New("cases: invalid argument")
	ErrCaseClosed          = errors.New("cases: case is closed")
	ErrCaseAlreadyAssigned = errors.New("cases: case already assigned")
	ErrCaseNotAssigned     = errors.New("cases: case not assigned")
	ErrCaseNotPaused       = errors.New("cases: case not paused")
	ErrResultAlreadySet    = errors.New("cases: result already set")
	ErrResultMissing       = errors.New("cases: exactly one result field required")
	ErrAgentBusy           = errors.New("cases: agent session already has an active case")
	ErrAgentOnCall         = errors.New("cases: agent session already has an active telephony session")
)
