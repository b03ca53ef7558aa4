package telephony

import (
	"context"
	"errors"
	"testing"
)

type recordingDispatcher struct {
	forwards  []ForwardCallCommand
	hangups   []HangupChannelCommand
	switches  []SwitchChannelCommand
	outbounds []StartOutboundCallCommand
}

func (d *recordingDispatcher) ForwardCall(ctx context.Context, cmd ForwardCallCommand) error {
	d.forwards = append(d.forwards, cmd)
	return nil
}

func (d *recordingDispatcher) HangupChannel(ctx context.Context, cmd HangupChannelCommand) error {
	d.hangups = append(d.hangups, cmd)
	return nil
}

func (d *recordingDispatcher) SwitchChannel(ctx context.Context, cmd SwitchChannelCommand) error {
	d.switches = append(d.switches, cmd)
	return nil
}

func (d *recordingDispatcher) StartOutboundCall(ctx context.Context, cmd StartOutboundCallCommand) error {
	d.outbounds = append(d.outbounds, cmd)
	return nil
}

func seedCall(t *testing.T, log *MemoryEventLog, sessionID string) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range []Event{
		created("agent", RoleAgent),
		created("caller", RoleCaller),
		stateSwitch("agent", ChannelStateAnswered),
		stateSwitch("caller", ChannelStateAnswered),
		audio("agent", "caller", true),
		audio("caller", "agent", true),
	} {
		ev.SessionID = sessionID
		if err := log.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestActions_ForwardAnsweredChannel(t *testing.T) {
	log := NewMemoryEventLog()
	seedCall(t, log, "s1")
	disp := &recordingDispatcher{}
	actions := NewActions(log, disp)

	if err := actions.Forward(context.Background(), "s1", "caller", "+4930111222"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(disp.forwards) != 1 || disp.forwards[0].ChannelID != "caller" {
		t.Fatalf("expected one forward command for caller, got %+v", disp.forwards)
	}
}

func TestActions_ForwardRejectsUnknownChannel(t *testing.T) {
	log := NewMemoryEventLog()
	seedCall(t, log, "s1")
	actions := NewActions(log, &recordingDispatcher{})

	err := actions.Forward(context.Background(), "s1", "ghost", "+4930111222")
	if !errors.Is(err, ErrChannelNotVisible) {
		t.Fatalf("expected ErrChannelNotVisible, got %v", err)
	}
}

func TestActions_ForwardRejectsRingingChannel(t *testing.T) {
	log := NewMemoryEventLog()
	ctx := context.Background()
	for _, ev := range []Event{
		created("agent", RoleAgent),
		created("caller", RoleCaller),
		stateSwitch("caller", ChannelStateRinging),
	} {
		ev.SessionID = "s1"
		if err := log.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	actions := NewActions(log, &recordingDispatcher{})

	err := actions.Forward(ctx, "s1", "caller", "+4930111222")
	if !errors.Is(err, ErrChannelNotAnswered) {
		t.Fatalf("expected ErrChannelNotAnswered, got %v", err)
	}
}

func TestActions_SwitchBetweenVisibleChannels(t *testing.T) {
	log := NewMemoryEventLog()
	seedCall(t, log, "s1")
	ctx := context.Background()
	for _, ev := range []Event{
		created("company", RoleCompany),
		stateSwitch("company", ChannelStateAnswered),
	} {
		ev.SessionID = "s1"
		if err := log.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	disp := &recordingDispatcher{}
	actions := NewActions(log, disp)

	if err := actions.Switch(ctx, "s1", "caller", "company"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(disp.switches) != 1 {
		t.Fatalf("expected one switch command, got %+v", disp.switches)
	}
	if cmd := disp.switches[0]; cmd.FromChannelID != "caller" || cmd.ToChannelID != "company" {
		t.Fatalf("unexpected switch command %+v", cmd)
	}
}

func TestActions_SwitchRejectsInvisibleChannel(t *testing.T) {
	log := NewMemoryEventLog()
	seedCall(t, log, "s1")
	actions := NewActions(log, &recordingDispatcher{})

	// The agent's own leg is not a visible channel either.
	for _, to := range []string{"ghost", "agent"} {
		if err := actions.Switch(context.Background(), "s1", "caller", to); !errors.Is(err, ErrChannelNotVisible) {
			t.Fatalf("switch to %q: expected ErrChannelNotVisible, got %v", to, err)
		}
	}
}

func TestActions_HangupAndOutbound(t *testing.T) {
	log := NewMemoryEventLog()
	seedCall(t, log, "s1")
	disp := &recordingDispatcher{}
	actions := NewActions(log, disp)
	ctx := context.Background()

	if err := actions.Hangup(ctx, "s1", "caller"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := actions.StartOutbound(ctx, "s1", "+4930999888", "company-7"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(disp.hangups) != 1 || len(disp.outbounds) != 1 {
		t.Fatalf("expected one hangup and one outbound, got %+v / %+v", disp.hangups, disp.outbounds)
	}
}
