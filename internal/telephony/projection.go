package telephony

import (
	"errors"
	"fmt"
)

// Projection errors indicate an unhandled signaling shape, not a business
// condition. Callers must not retry; the event history itself is suspect.
var (
	ErrUnknownEventKind        = errors.New("telephony: unknown event kind")
	ErrUnsupportedChannelState = errors.New("telephony: unsupported channel state")
)

// Project replays the full event history of one session and derives the
// current call topology.
//
// Project is pure: no side effects, no hidden counters. The same history
// always yields the same snapshot, no matter how often it is called.
// An empty history yields Inactive().
func Project(sessionID string, history []Event) (DerivedTelephonyState, error) {
	if len(history) == 0 {
		out := Inactive()
		out.SessionID = sessionID
		return out, nil
	}

	r := newReplay()
	for i, ev := range history {
		if err := r.apply(ev); err != nil {
			return DerivedTelephonyState{}, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return r.derive(sessionID)
}

type channel struct {
	id           string
	localNumber  string
	remoteNumber string
	direction    ChannelDirection
	role         ChannelRole
	companyID    string
	state        ChannelLifecycleState
	seq          int // creation order, used for most-recent tie-breaks
}

type edge struct{ src, dst string }

type replay struct {
	channels map[string]*channel
	order    []string // channel ids in creation order
	edges    map[edge]bool

	// slots holds the line-number assignment. A nil entry is a free slot
	// left behind by a channel that went final; it is reused by the next
	// new line rather than compacted, so existing lines keep their number.
	slots   []*string
	slotted map[string]int

	agentAnswered     bool
	matchedServiceNum string
}

func newReplay() *replay {
	return &replay{
		channels: map[string]*channel{},
		edges:    map[edge]bool{},
		slotted:  map[string]int{},
	}
}

func (r *replay) apply(ev Event) error {
	switch ev.Kind {
	case EventChannelCreated:
		ch := &channel{
			id:           ev.ChannelID,
			localNumber:  ev.LocalNumber,
			remoteNumber: ev.RemoteNumber,
			direction:    ev.Direction,
			role:         ChannelRole(ev.Metadata[MetaKeyReference]),
			companyID:    ev.Metadata[MetaKeyCompanyID],
			state:        ChannelStateCreated,
			seq:          len(r.order),
		}
		r.channels[ev.ChannelID] = ch
		r.order = append(r.order, ev.ChannelID)
		r.track(ch)
		return nil

	case EventChannelStateSwitch:
		ch, ok := r.channels[ev.ChannelID]
		if !ok {
			return fmt.Errorf("telephony: state switch for unknown channel %q", ev.ChannelID)
		}
		if !knownState(ev.NewState) {
			return fmt.Errorf("%w: %q on channel %q", ErrUnsupportedChannelState, ev.NewState, ev.ChannelID)
		}
		ch.state = ev.NewState
		if ch.role == RoleAgent && ev.NewState == ChannelStateAnswered {
			r.agentAnswered = true
		}
		if ev.NewState.IsFinal() {
			r.free(ch.id)
		} else {
			r.track(ch)
		}
		return nil

	case EventAudioConnectionChange:
		e := edge{src: ev.SourceChannelID, dst: ev.DestChannelID}
		if ev.Connected {
			r.edges[e] = true
		} else {
			delete(r.edges, e)
		}
		return nil

	case EventServiceNumberMatch:
		r.matchedServiceNum = ev.ServiceNumberLink
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, ev.Kind)
	}
}

// track gives a non-agent channel its line slot: the first free slot, or a
// new one at the end. Agent legs never occupy a line.
func (r *replay) track(ch *channel) {
	if ch.role == RoleAgent {
		return
	}
	if _, ok := r.slotted[ch.id]; ok {
		return
	}
	for i, s := range r.slots {
		if s == nil {
			id := ch.id
			r.slots[i] = &id
			r.slotted[ch.id] = i
			return
		}
	}
	id := ch.id
	r.slots = append(r.slots, &id)
	r.slotted[ch.id] = len(r.slots) - 1
}

// free clears the channel's slot to nil. The slot stays in place so the
// other lines keep their positions; the next new channel reuses it.
func (r *replay) free(channelID string) {
	i, ok := r.slotted[channelID]
	if !ok {
		return
	}
	r.slots[i] = nil
	delete(r.slotted, channelID)
}

// bidirectionalPeers recomputes the set of mutual audio connections from
// the directed edge set. It is recomputed here, at derivation time, so that
// disconnect/reconnect sequences cannot leave a stale cached pair behind.
func (r *replay) bidirectionalPeers() map[string]map[string]bool {
	peers := map[string]map[string]bool{}
	for e := range r.edges {
		if !r.edges[edge{src: e.dst, dst: e.src}] {
			continue
		}
		if peers[e.src] == nil {
			peers[e.src] = map[string]bool{}
		}
		peers[e.src][e.dst] = true
	}
	return peers
}

// activeAgentChannel returns the most recently created agent channel that
// is not in a final state.
func (r *replay) activeAgentChannel() *channel {
	var out *channel
	for _, id := range r.order {
		ch := r.channels[id]
		if ch.role != RoleAgent || ch.state.IsFinal() {
			continue
		}
		if out == nil || ch.seq > out.seq {
			out = ch
		}
	}
	return out
}

func (r *replay) derive(sessionID string) (DerivedTelephonyState, error) {
	peers := r.bidirectionalPeers()
	agent := r.activeAgentChannel()

	visible := make([]DerivedChannelState, 0, len(r.slotted))
	for i, s := range r.slots {
		if s == nil {
			continue
		}
		ch := r.channels[*s]
		ds, err := deriveState(ch.state)
		if err != nil {
			return DerivedTelephonyState{}, fmt.Errorf("channel %q: %w", ch.id, err)
		}
		connected := agent != nil && peers[ch.id][agent.id]
		visible = append(visible, DerivedChannelState{
			ChannelID:             ch.id,
			LineNumber:            i,
			Reference:             ch.role,
			LocalNumber:           ch.localNumber,
			RemoteNumber:          ch.remoteNumber,
			State:                 ds,
			Direction:             ch.direction,
			AudioConnectedToAgent: connected,
			CompanyID:             ch.companyID,
		})
	}

	onHold := len(peers) == 0

	participates := false
	for _, v := range visible {
		if v.AudioConnectedToAgent {
			participates = true
			break
		}
	}
	// Full hold still counts as agent engagement: nobody hears anybody,
	// but the agent holds a live leg and owns the call.
	if !participates && onHold && agent != nil {
		participates = true
	}

	// Forwarded: the call carries on among the other parties without the
	// agent. Every visible channel must be in some mutual connection, and
	// none of those connections involve an agent leg.
	forwarded := false
	if !participates && len(visible) > 0 {
		distinct := 0
		for id := range peers {
			ch, ok := r.channels[id]
			if ok && ch.role == RoleAgent {
				continue
			}
			distinct++
		}
		forwarded = distinct == len(visible)
	}

	return DerivedTelephonyState{
		SessionID:                sessionID,
		Channels:                 visible,
		OnHold:                   onHold,
		Forwarded:                forwarded,
		HasAgentAnswered:         r.agentAnswered,
		AgentParticipatesInCall:  participates,
		HasActiveAgentChannel:    agent != nil,
		MatchedServiceNumberLink: r.matchedServiceNum,
	}, nil
}

func deriveState(s ChannelLifecycleState) (DerivedState, error) {
	switch s {
	case ChannelStateCreated, ChannelStateTrying, ChannelStateProgress:
		return DerivedConnecting, nil
	case ChannelStateRinging:
		return DerivedRinging, nil
	case ChannelStateAnswered:
		return DerivedAnswered, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChannelState, s)
	}
}

func knownState(s ChannelLifecycleState) bool {
	switch s {
	case ChannelStateCreated, ChannelStateTrying, ChannelStateProgress,
		ChannelStateRinging, ChannelStateAnswered, ChannelStateHangup, ChannelStateFaulted:
		return true
	default:
		return false
	}
}
