package telephony

import (
	"errors"
	"reflect"
	"testing"
)

func created(id string, role ChannelRole) Event {
	return Event{
		Kind:      EventChannelCreated,
		ChannelID: id,
		Direction: DirectionInbound,
		Metadata:  map[string]string{MetaKeyReference: string(role)},
	}
}

func stateSwitch(id string, s ChannelLifecycleState) Event {
	return Event{Kind: EventChannelStateSwitch, ChannelID: id, NewState: s}
}

func audio(src, dst string, connected bool) Event {
	return Event{Kind: EventAudioConnectionChange, SourceChannelID: src, DestChannelID: dst, Connected: connected}
}

func TestProject_EmptyHistoryIsInactive(t *testing.T) {
	got, err := Project("s1", nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := Inactive()
	want.SessionID = "s1"
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected inactive snapshot, got %+v", got)
	}
}

func TestProject_Idempotent(t *testing.T) {
	history := []Event{
		created("agent", RoleAgent),
		created("caller", RoleCaller),
		stateSwitch("agent", ChannelStateAnswered),
		stateSwitch("caller", ChannelStateAnswered),
		audio("agent", "caller", true),
		audio("caller", "agent", true),
	}
	first, err := Project("s1", history)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Project("s1", history)
		if err != nil {
			t.Fatalf("unexpected err on run %d: %v", i, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("projection not idempotent: run %d differs\nfirst: %+v\nagain: %+v", i, first, again)
		}
	}
}

func TestProject_BidirectionalSymmetry(t *testing.T) {
	base := []Event{
		created("agent", RoleAgent),
		created("caller", RoleCaller),
		stateSwitch("agent", ChannelStateAnswered),
		stateSwitch("caller", ChannelStateAnswered),
	}

	orders := [][]Event{
		{audio("agent", "caller", true), audio("caller", "agent", true)},
		{audio("caller", "agent", true), audio("agent", "caller", true)},
	}
	for i, edges := range orders {
		st, err := Project("s1", append(append([]Event{}, base...), edges...))
		if err != nil {
			t.Fatalf("order %d: unexpected err: %v", i, err)
		}
		if len(st.Channels) != 1 || !st.Channels[0].AudioConnectedToAgent {
			t.Fatalf("order %d: expected caller audio-connected to agent, got %+v", i, st.Channels)
		}
		if !st.AgentParticipatesInCall {
			t.Fatalf("order %d: expected agent participating", i)
		}
	}

	// Removing either direction breaks the pair.
	for _, drop := range []Event{audio("agent", "caller", false), audio("caller", "agent", false)} {
		history := append(append([]Event{}, base...),
			audio("agent", "caller", true),
			audio("caller", "agent", true),
			drop,
		)
		st, err := Project("s1", history)
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if st.Channels[0].AudioConnectedToAgent {
			t.Fatalf("expected pair broken after removing %s->%s", drop.SourceChannelID, drop.DestChannelID)
		}
	}
}

func TestProject_LineSlotReuse(t *testing.T) {
	history := []Event{
		created("a", RoleCaller),
		created("b", RoleCompany),
		created("c", RoleCustomer),
		stateSwitch("b", ChannelStateHangup),
		created("d", RoleCompany),
	}
	st, err := Project("s1", history)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	lines := map[string]int{}
	for _, ch := range st.Channels {
		lines[ch.ChannelID] = ch.LineNumber
	}
	if lines["a"] != 0 || lines["c"] != 2 {
		t.Fatalf("existing lines moved: %v", lines)
	}
	if got, ok := lines["d"]; !ok || got != 1 {
		t.Fatalf("expected new channel to reuse slot 1, got %v", lines)
	}
	if _, ok := lines["b"]; ok {
		t.Fatalf("final channel must not be visible: %v", lines)
	}
}

func TestProject_AgentChannelNeverVisible(t *testing.T) {
	st, err := Project("s1", []Event{
		created("agent", RoleAgent),
		created("caller", RoleCaller),
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(st.Channels) != 1 || st.Channels[0].ChannelID != "caller" {
		t.Fatalf("agent leg leaked into visible channels: %+v", st.Channels)
	}
	if st.Channels[0].LineNumber != 0 {
		t.Fatalf("caller should hold line 0, got %d", st.Channels[0].LineNumber)
	}
}

func TestProject_ForwardedCall(t *testing.T) {
	history := []Event{
		created("agent", RoleAgent),
		created("caller", RoleCaller),
		created("company", RoleCompany),
		stateSwitch("agent", ChannelStateAnswered),
		stateSwitch("caller", ChannelStateAnswered),
		stateSwitch("company", ChannelStateAnswered),
		audio("agent", "company", true),
		audio("company", "agent", true),
		audio("company", "caller", true),
		audio("caller", "company", true),
		// Agent drops out of the bridge; caller and company stay connected.
		audio("agent", "company", false),
		audio("company", "agent", false),
	}
	st, err := Project("s1", history)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !st.Forwarded {
		t.Fatalf("expected forwarded call, got %+v", st)
	}
	if st.AgentParticipatesInCall {
		t.Fatalf("expected agent not participating in forwarded call")
	}
	if st.OnHold {
		t.Fatalf("forwarded call must not be on hold")
	}
}

func TestProject_FullHoldCountsAsParticipation(t *testing.T) {
	history := []Event{
		created("agent", RoleAgent),
		created("caller", RoleCaller),
		stateSwitch("agent", ChannelStateAnswered),
		stateSwitch("caller", ChannelStateAnswered),
		audio("agent", "caller", true),
		audio("caller", "agent", true),
		audio("agent", "caller", false),
		audio("caller", "agent", false),
	}
	st, err := Project("s1", history)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !st.OnHold {
		t.Fatalf("expected call on hold, got %+v", st)
	}
	if !st.AgentParticipatesInCall {
		t.Fatalf("hold with a live agent leg still counts as agent engagement")
	}
	if st.Forwarded {
		t.Fatalf("held call must not read as forwarded")
	}
}

func TestProject_HasAgentAnsweredSticks(t *testing.T) {
	history := []Event{
		created("agent", RoleAgent),
		created("caller", RoleCaller),
		stateSwitch("agent", ChannelStateAnswered),
		stateSwitch("agent", ChannelStateHangup),
	}
	st, err := Project("s1", history)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !st.HasAgentAnswered {
		t.Fatalf("answered flag must survive agent hangup")
	}
	if st.HasActiveAgentChannel {
		t.Fatalf("hung-up agent leg must not count as active")
	}
}

func TestProject_UnsupportedStateFailsFast(t *testing.T) {
	history := []Event{
		created("caller", RoleCaller),
		stateSwitch("caller", ChannelLifecycleState("warbling")),
	}
	_, err := Project("s1", history)
	if !errors.Is(err, ErrUnsupportedChannelState) {
		t.Fatalf("expected ErrUnsupportedChannelState, got %v", err)
	}
}

func TestProject_UnknownEventKindFailsFast(t *testing.T) {
	_, err := Project("s1", []Event{{Kind: EventKind("mystery")}})
	if !errors.Is(err, ErrUnknownEventKind) {
		t.Fatalf("expected ErrUnknownEventKind, got %v", err)
	}
}

func TestProject_ServiceNumberMatch(t *testing.T) {
	st, err := Project("s1", []Event{
		created("caller", RoleCaller),
		{Kind: EventServiceNumberMatch, ServiceNumberLink: "svc-42"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if st.MatchedServiceNumberLink != "svc-42" {
		t.Fatalf("expected matched link svc-42, got %q", st.MatchedServiceNumberLink)
	}
}
