package cases

import "fmt"

// UnassignInputs are the five facts gating whether an agent may be
// detached from a case. Callers compute all five up front (projection for
// the first two, case row for the middle two, session liveness for the
// last) and must not mutate anything until the verdict is in.
type UnassignInputs struct {
	HasBeenAnsweredByAgent    bool
	HasAgentAnActiveChannel   bool
	HasCaseResult             bool
	IsCaseClosed              bool
	HasActiveTelephonySession bool
}

// The reason strings are shown verbatim to service-center agents, who act
// on them in real time. Do not reword them.
const (
	ReasonActiveAgentChannels = "active agent channel(s)"
	ReasonMustCloseCase       = "must close case"
	ReasonResultMissing       = "case result is missing"
	ReasonCallingAgent        = "active telephony session while SC is calling the agent"
)

// Verdict is the guard's answer: allowed, or one of the four fixed reasons.
type Verdict struct {
	Allowed bool
	Reason  string
}

var allowed = Verdict{Allowed: true}

func denied(reason string) Verdict { return Verdict{Reason: reason} }

// unassignTable is the exhaustive decision table, indexed by the 5-bit
// tuple (answered, activeChannel, result, closed, telephony) with answered
// as the highest bit.
//
// The table is written out in full on purpose. Several rows are not
// derivable from a simpler rule: an unanswered case with no
// active channel is denied even though the answered twin is allowed,
// because "unanswered, no channel yet" means the service center is still
// calling the agent. Collapsing the table into fewer conditionals has
// silently changed that behavior before; keep all 32 rows explicit.
var unassignTable = [32]Verdict{
	// answered=0 activeChannel=0
	/* result=0 closed=0 tel=0 */ denied(ReasonCallingAgent),
	/* result=0 closed=0 tel=1 */ denied(ReasonCallingAgent),
	/* result=0 closed=1 tel=0 */ denied(ReasonResultMissing),
	/* result=0 closed=1 tel=1 */ denied(ReasonResultMissing),
	/* result=1 closed=0 tel=0 */ denied(ReasonCallingAgent),
	/* result=1 closed=0 tel=1 */ denied(ReasonCallingAgent),
	/* result=1 closed=1 tel=0 */ allowed,
	/* result=1 closed=1 tel=1 */ allowed,

	// answered=0 activeChannel=1
	/* result=0 closed=0 tel=0 */ denied(ReasonActiveAgentChannels),
	/* result=0 closed=0 tel=1 */ denied(ReasonActiveAgentChannels),
	/* result=0 closed=1 tel=0 */ denied(ReasonActiveAgentChannels),
	/* result=0 closed=1 tel=1 */ denied(ReasonActiveAgentChannels),
	/* result=1 closed=0 tel=0 */ denied(ReasonActiveAgentChannels),
	/* result=1 closed=0 tel=1 */ denied(ReasonActiveAgentChannels),
	/* result=1 closed=1 tel=0 */ denied(ReasonActiveAgentChannels),
	/* result=1 closed=1 tel=1 */ denied(ReasonActiveAgentChannels),

	// answered=1 activeChannel=0
	/* result=0 closed=0 tel=0 */ allowed,
	/* result=0 closed=0 tel=1 */ allowed,
	/* result=0 closed=1 tel=0 */ denied(ReasonResultMissing),
	/* result=0 closed=1 tel=1 */ denied(ReasonResultMissing),
	/* result=1 closed=0 tel=0 */ denied(ReasonMustCloseCase),
	/* result=1 closed=0 tel=1 */ denied(ReasonMustCloseCase),
	/* result=1 closed=1 tel=0 */ allowed,
	/* result=1 closed=1 tel=1 */ allowed,

	// answered=1 activeChannel=1
	/* result=0 closed=0 tel=0 */ denied(ReasonActiveAgentChannels),
	/* result=0 closed=0 tel=1 */ denied(ReasonActiveAgentChannels),
	/* result=0 closed=1 tel=0 */ denied(ReasonActiveAgentChannels),
	/* result=0 closed=1 tel=1 */ denied(ReasonActiveAgentChannels),
	/* result=1 closed=0 tel=0 */ denied(ReasonActiveAgentChannels),
	/* result=1 closed=0 tel=1 */ denied(ReasonActiveAgentChannels),
	/* result=1 closed=1 tel=0 */ denied(ReasonActiveAgentChannels),
	/* result=1 closed=1 tel=1 */ denied(ReasonActiveAgentChannels),
}

func (in UnassignInputs) index() int {
	i := 0
	if in.HasBeenAnsweredByAgent {
		i |= 1 << 4
	}
	if in.HasAgentAnActiveChannel {
		i |= 1 << 3
	}
	if in.HasCaseResult {
		i |= 1 << 2
	}
	if in.IsCaseClosed {
		i |= 1 << 1
	}
	if in.HasActiveTelephonySession {
		i |= 1
	}
	return i
}

// EvaluateUnassign is the pure eligibility check. It is total: every
// combination of the five inputs has a defined verdict.
func EvaluateUnassign(in UnassignInputs) Verdict {
	return unassignTable[in.index()]
}

// UnassignDeniedError is the typed form of a denial, raised by the service
// layer so callers get the specific reason for observability.
type UnassignDeniedError struct {
	CaseID string
	Reason string
}

func (e *UnassignDeniedError) Error() string {
	return fmt.Sprintf("cases: cannot unassign case %s: %s", e.CaseID, e.Reason)
}
