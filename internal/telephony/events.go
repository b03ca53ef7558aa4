package telephony

import (
	"context"
	"time"
)

// Event is one normalized signaling event inside a telephony session.
//
// Rules:
// - Events are immutable once written.
// - Within one session the history is totally ordered; the projection
//   relies on that order and never sorts.
// - Provider-specific payloads stay out of this model; keep raw payloads
//   in Metadata if they are needed for debugging.
type Event struct {
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"kind"`

	// ChannelCreated fields.
	ChannelID    string           `json:"channel_id,omitempty"`
	LocalNumber  string           `json:"local_number,omitempty"`
	RemoteNumber string           `json:"remote_number,omitempty"`
	Direction    ChannelDirection `json:"direction,omitempty"`
	ProviderInfo string           `json:"provider_info,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// ChannelStateSwitch fields.
	NewState        ChannelLifecycleState `json:"new_state,omitempty"`
	FaultReason     string                `json:"fault_reason,omitempty"`
	HangupInitiator string                `json:"hangup_initiator,omitempty"`

	// AudioConnectionChange fields.
	SourceChannelID string `json:"source_channel_id,omitempty"`
	DestChannelID   string `json:"dest_channel_id,omitempty"`
	Connected       bool   `json:"connected,omitempty"`

	// ServiceNumberMatch fields.
	ServiceNumberLink string `json:"service_number_link,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

type EventKind string

const (
	EventChannelCreated        EventKind = "channel_created"
	EventChannelStateSwitch    EventKind = "channel_state_switch"
	EventAudioConnectionChange EventKind = "audio_connection_change"
	EventServiceNumberMatch    EventKind = "service_number_match"
)

type ChannelDirection string

const (
	DirectionInbound  ChannelDirection = "inbound"
	DirectionOutbound ChannelDirection = "outbound"
)

// ChannelLifecycleState is the raw signaling state of a single channel.
// Hangup and faulted are final; a channel never leaves them.
type ChannelLifecycleState string

const (
	ChannelStateCreated  ChannelLifecycleState = "created"
	ChannelStateTrying   ChannelLifecycleState = "trying"
	ChannelStateProgress ChannelLifecycleState = "progress"
	ChannelStateRinging  ChannelLifecycleState = "ringing"
	ChannelStateAnswered ChannelLifecycleState = "answered"
	ChannelStateHangup   ChannelLifecycleState = "hangup"
	ChannelStateFaulted  ChannelLifecycleState = "faulted"
)

// IsFinal reports whether a channel in this state is gone for good.
func (s ChannelLifecycleState) IsFinal() bool {
	return s == ChannelStateHangup || s == ChannelStateFaulted
}

// ChannelRole identifies which party a channel belongs to.
// It is carried in event metadata under MetaKeyReference.
type ChannelRole string

const (
	RoleAgent    ChannelRole = "agent"
	RoleCaller   ChannelRole = "caller"
	RoleCompany  ChannelRole = "company"
	RoleCustomer ChannelRole = "customer"
)

// Metadata keys understood by the projection.
const (
	MetaKeyReference      = "reference"
	MetaKeyCompanyID      = "company_id"
	MetaKeyAgentSessionID = "agent_session_id"
)

// EventSource provides the ordered event history of a telephony session.
// Implementations live outside this core (the session subsystem owns the log).
type EventSource interface {
	EventHistory(ctx context.Context, sessionID string) ([]Event, error)
}
