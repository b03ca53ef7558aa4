package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Commands are the outbound side of the core: action handlers consult the
// projection for legality, then hand a command to the dispatcher. The
// dispatcher talks to the signaling subsystem and feeds resulting events
// back into the session log; none of that happens here.

type ForwardCallCommand struct {
	SessionID     string `json:"session_id"`
	ChannelID     string `json:"channel_id"`
	ForwardNumber string `json:"forward_number"`
}

type HangupChannelCommand struct {
	SessionID string `json:"session_id"`
	ChannelID string `json:"channel_id"`
}

type SwitchChannelCommand struct {
	SessionID     string `json:"session_id"`
	FromChannelID string `json:"from_channel_id"`
	ToChannelID   string `json:"to_channel_id"`
}

type StartOutboundCallCommand struct {
	SessionID    string `json:"session_id"`
	RemoteNumber string `json:"remote_number"`
	CompanyID    string `json:"company_id,omitempty"`
}

type CommandDispatcher interface {
	ForwardCall(ctx context.Context, cmd ForwardCallCommand) error
	HangupChannel(ctx context.Context, cmd HangupChannelCommand) error
	SwitchChannel(ctx context.Context, cmd SwitchChannelCommand) error
	StartOutboundCall(ctx context.Context, cmd StartOutboundCallCommand) error
}

var (
	ErrChannelNotVisible  = errors.New("telephony: channel not part of the call")
	ErrChannelNotAnswered = errors.New("telephony: channel not answered")
	ErrCallForwarded      = errors.New("telephony: call already forwarded")
)

// Actions validates agent-triggered call manipulations against the current
// projection before dispatching them.
type Actions struct {
	events     EventSource
	dispatcher CommandDispatcher
}

func NewActions(events EventSource, dispatcher CommandDispatcher) *Actions {
	return &Actions{events: events, dispatcher: dispatcher}
}

func (a *Actions) snapshot(ctx context.Context, sessionID string) (DerivedTelephonyState, error) {
	history, err := a.events.EventHistory(ctx, sessionID)
	if err != nil {
		return DerivedTelephonyState{}, fmt.Errorf("load event history: %w", err)
	}
	return Project(sessionID, history)
}

// Forward hands an answered, non-agent channel off to an external number.
func (a *Actions) Forward(ctx context.Context, sessionID, channelID, forwardNumber string) error {
	st, err := a.snapshot(ctx, sessionID)
	if err != nil {
		return err
	}
	if st.Forwarded {
		return ErrCallForwarded
	}
	ch, ok := findChannel(st, channelID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrChannelNotVisible, channelID)
	}
	if ch.State != DerivedAnswered {
		return fmt.Errorf("%w: %q is %s", ErrChannelNotAnswered, channelID, ch.State)
	}
	return a.dispatcher.ForwardCall(ctx, ForwardCallCommand{
		SessionID:     sessionID,
		ChannelID:     channelID,
		ForwardNumber: forwardNumber,
	})
}

// Hangup drops one visible channel.
func (a *Actions) Hangup(ctx context.Context, sessionID, channelID string) error {
	st, err := a.snapshot(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, ok := findChannel(st, channelID); !ok {
		return fmt.Errorf("%w: %q", ErrChannelNotVisible, channelID)
	}
	return a.dispatcher.HangupChannel(ctx, HangupChannelCommand{SessionID: sessionID, ChannelID: channelID})
}

// Switch moves the agent's audio from one visible channel to another.
func (a *Actions) Switch(ctx context.Context, sessionID, fromChannelID, toChannelID string) error {
	st, err := a.snapshot(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, id := range []string{fromChannelID, toChannelID} {
		if _, ok := findChannel(st, id); !ok {
			return fmt.Errorf("%w: %q", ErrChannelNotVisible, id)
		}
	}
	return a.dispatcher.SwitchChannel(ctx, SwitchChannelCommand{
		SessionID:     sessionID,
		FromChannelID: fromChannelID,
		ToChannelID:   toChannelID,
	})
}

// StartOutbound opens a new outbound leg inside the session.
func (a *Actions) StartOutbound(ctx context.Context, sessionID, remoteNumber, companyID string) error {
	if remoteNumber == "" {
		return errors.New("telephony: remote number required")
	}
	// The projection is still consulted so an invalid history fails fast
	// before a command leaves the core.
	if _, err := a.snapshot(ctx, sessionID); err != nil {
		return err
	}
	return a.dispatcher.StartOutboundCall(ctx, StartOutboundCallCommand{
		SessionID:    sessionID,
		RemoteNumber: remoteNumber,
		CompanyID:    companyID,
	})
}

func findChannel(st DerivedTelephonyState, channelID string) (DerivedChannelState, bool) {
	for _, ch := range st.Channels {
		if ch.ChannelID == channelID {
			return ch, true
		}
	}
	return DerivedChannelState{}, false
}
