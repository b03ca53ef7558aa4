package telephony

// DerivedState is the lifecycle of a visible channel as presented to agents.
// It is a collapse of the raw signaling states: everything before ringing is
// "connecting", final channels are not visible at all.
type DerivedState string

const (
	DerivedConnecting DerivedState = "connecting"
	DerivedRinging    DerivedState = "ringing"
	DerivedAnswered   DerivedState = "answered"
)

// DerivedChannelState is one visible line of a call as the agent sees it.
// The agent's own leg is never part of this list.
type DerivedChannelState struct {
	ChannelID    string           `json:"channel_id"`
	LineNumber   int              `json:"line_number"`
	Reference    ChannelRole      `json:"reference"`
	LocalNumber  string           `json:"local_number"`
	RemoteNumber string           `json:"remote_number"`
	State        DerivedState     `json:"state"`
	Direction    ChannelDirection `json:"direction"`

	// AudioConnectedToAgent is true iff this channel and the agent channel
	// currently send audio to each other (both directions).
	AudioConnectedToAgent bool `json:"audio_connected_to_agent"`

	CompanyID string `json:"company_id,omitempty"`
}

// DerivedTelephonyState is the full topology snapshot produced by Project.
// It is a value: recomputed on demand from the event history, never stored.
type DerivedTelephonyState struct {
	SessionID string                `json:"session_id"`
	Channels  []DerivedChannelState `json:"channels"`

	// OnHold is true iff no two channels can currently hear each other.
	OnHold bool `json:"on_hold"`

	// Forwarded is true iff the call carries on without the agent: every
	// visible channel is in a bidirectional connection with another
	// non-agent channel while the agent participates in none of them.
	Forwarded bool `json:"forwarded"`

	// HasAgentAnswered is true once any agent channel reached answered,
	// and stays true for the rest of the session.
	HasAgentAnswered bool `json:"has_agent_answered"`

	// AgentParticipatesInCall is true iff the agent is audibly in the call,
	// or the call is fully on hold while the agent still holds a live leg.
	AgentParticipatesInCall bool `json:"agent_participates_in_call"`

	// HasActiveAgentChannel is true iff an agent channel exists and is not
	// in a final state.
	HasActiveAgentChannel bool `json:"has_active_agent_channel"`

	MatchedServiceNumberLink string `json:"matched_service_number_link,omitempty"`
}

// Inactive is the canonical snapshot for "no telephony session": no
// channels, every flag false. Callers compare against it by value.
func Inactive() DerivedTelephonyState {
	return DerivedTelephonyState{Channels: []DerivedChannelState{}}
}
