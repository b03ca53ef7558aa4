package cases

import (
	"context"
	"errors"
	"sync"
	"testing"

	"servicecenter-platform/internal/agentsession"
	"servicecenter-platform/internal/locking"
	"servicecenter-platform/internal/telephony"
)

type fixture struct {
	svc         *Service
	repo        *MemoryRepo
	sessions    *agentsession.Service
	sessionRepo *agentsession.MemoryRepo
	events      *telephony.MemoryEventLog
}

func newFixture() *fixture {
	locks := locking.NewMemory()
	caseRepo := NewMemoryRepo()
	sessionRepo := agentsession.NewMemoryRepo()
	sessions := agentsession.NewService(sessionRepo, caseRepo, locks)
	events := telephony.NewMemoryEventLog()
	return &fixture{
		svc:         NewService(caseRepo, sessions, sessionRepo, events, locks),
		repo:        caseRepo,
		sessions:    sessions,
		sessionRepo: sessionRepo,
		events:      events,
	}
}

func (f *fixture) startAgent(t *testing.T, workGroups ...string) agentsession.AgentSession {
	t.Helper()
	prio := 1
	s, err := f.sessions.StartSession(context.Background(), agentsession.StartSessionParams{
		UserID: "user", PhoneDeviceID: "device",
		AutomaticallyAssignCase: true, Priority: &prio,
		WorkGroups: workGroups,
	})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return s
}

func (f *fixture) createCase(t *testing.T, workGroup string) Case {
	t.Helper()
	c, err := f.svc.CreateCase(context.Background(), CreateCaseParams{
		Source: SourceLead, CaseType: "callback", WorkGroup: workGroup,
	})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	return c
}

func TestCreateCase_StartsQueued(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	c := f.createCase(t, "sales")
	st, err := f.svc.State(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !st.Queued || st.Assigned || st.Paused || st.Closed {
		t.Fatalf("fresh case should be queued only, got %+v", st)
	}

	_, err = f.svc.CreateCase(ctx, CreateCaseParams{Source: Source("weird"), WorkGroup: "sales"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for bad source, got %v", err)
	}
}

func TestStartCase_AssignsAndDequeues(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	agent := f.startAgent(t, "sales")
	c := f.createCase(t, "sales")

	if err := f.svc.StartCase(ctx, c.ID, agent.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	st, err := f.svc.State(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !st.Assigned || st.Queued || st.Paused {
		t.Fatalf("started case should be assigned and dequeued, got %+v", st)
	}
	if st.Entry.AssignedAgentSessionID != agent.ID {
		t.Fatalf("expected agent %s, got %s", agent.ID, st.Entry.AssignedAgentSessionID)
	}
	if st.Case.StartedAt == nil {
		t.Fatalf("startedAt should be recorded")
	}

	log, err := f.sessions.Current(ctx, agent.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if log.Status != agentsession.StatusHandleCase || log.CaseID != c.ID {
		t.Fatalf("agent log should be HANDLE_CASE on the case, got %+v", log)
	}

	// A second starter must observe the assignment.
	other := f.startAgent(t, "sales")
	if err := f.svc.StartCase(ctx, c.ID, other.ID); !errors.Is(err, ErrCaseAlreadyAssigned) {
		t.Fatalf("expected ErrCaseAlreadyAssigned, got %v", err)
	}
}

func TestStartCase_RejectsBusyAgent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	agent := f.startAgent(t, "sales")
	first := f.createCase(t, "sales")
	second := f.createCase(t, "sales")

	if err := f.svc.StartCase(ctx, first.ID, agent.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := f.svc.StartCase(ctx, second.ID, agent.ID); !errors.Is(err, ErrAgentBusy) {
		t.Fatalf("expected ErrAgentBusy, got %v", err)
	}
}

// Two simultaneous starts for different cases on the same agent must
// serialize on the session: the idle check and the HANDLE_CASE transition
// happen under the session lock, so at most one start can win.
func TestStartCase_ConcurrentStartsBookAgentOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	agent := f.startAgent(t, "sales")

	for round := 0; round < 200; round++ {
		first := f.createCase(t, "sales")
		second := f.createCase(t, "sales")

		var (
			wg      sync.WaitGroup
			ready   = make(chan struct{})
			results [2]error
		)
		for i, caseID := range []string{first.ID, second.ID} {
			wg.Add(1)
			go func(i int, caseID string) {
				defer wg.Done()
				<-ready
				results[i] = f.svc.StartCase(ctx, caseID, agent.ID)
			}(i, caseID)
		}
		close(ready)
		wg.Wait()

		assigned, err := f.repo.AssignedOpenCaseIDs(ctx, agent.ID)
		if err != nil {
			t.Fatalf("round %d: assigned cases: %v", round, err)
		}
		if len(assigned) > 1 {
			t.Fatalf("round %d: agent booked onto %v simultaneously (%v / %v)",
				round, assigned, results[0], results[1])
		}
		wins := 0
		for _, res := range results {
			if res == nil {
				wins++
			}
		}
		if wins != len(assigned) {
			t.Fatalf("round %d: %d successful starts but %d assignments", round, wins, len(assigned))
		}

		// Free the agent for the next round.
		for _, caseID := range assigned {
			if err := f.svc.CloseCase(ctx, caseID); err != nil {
				t.Fatalf("round %d: close case: %v", round, err)
			}
		}
	}
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	agent := f.startAgent(t, "sales")
	c := f.createCase(t, "sales")
	if err := f.svc.StartCase(ctx, c.ID, agent.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if err := f.svc.PauseCase(ctx, c.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	st, err := f.svc.State(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !st.Paused || !st.Assigned || st.Queued {
		t.Fatalf("paused case keeps assignment and stays off the queue, got %+v", st)
	}
	log, err := f.sessions.Current(ctx, agent.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if log.Status != agentsession.StatusAwaitingCase || log.CaseID != "" {
		t.Fatalf("pausing frees the agent, got %+v", log)
	}

	if err := f.svc.ResumeCase(ctx, c.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	st, err = f.svc.State(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if st.Paused {
		t.Fatalf("resumed case must not be paused, got %+v", st)
	}
	if err := f.svc.ResumeCase(ctx, c.ID); !errors.Is(err, ErrCaseNotPaused) {
		t.Fatalf("expected ErrCaseNotPaused on double resume, got %v", err)
	}
}

func TestCloseCase_FreesAgent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	agent := f.startAgent(t, "sales")
	c := f.createCase(t, "sales")
	if err := f.svc.StartCase(ctx, c.ID, agent.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := f.svc.CloseCase(ctx, c.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	st, err := f.svc.State(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !st.Closed || st.Paused || st.Queued {
		t.Fatalf("expected closed case, got %+v", st)
	}
	log, err := f.sessions.Current(ctx, agent.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if log.Status != agentsession.StatusAwaitingCase {
		t.Fatalf("closing returns agent to awaiting, got %+v", log)
	}
	if err := f.svc.CloseCase(ctx, c.ID); !errors.Is(err, ErrCaseClosed) {
		t.Fatalf("expected ErrCaseClosed on double close, got %v", err)
	}
}

func TestSetResult_ExactlyOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	c := f.createCase(t, "sales")

	if err := f.svc.SetResult(ctx, c.ID, Result{}); !errors.Is(err, ErrResultMissing) {
		t.Fatalf("expected ErrResultMissing for empty result, got %v", err)
	}
	if err := f.svc.SetResult(ctx, c.ID, Result{LeadID: "l1", AppointmentID: "a1"}); !errors.Is(err, ErrResultMissing) {
		t.Fatalf("expected ErrResultMissing for two results, got %v", err)
	}
	if err := f.svc.SetResult(ctx, c.ID, Result{LeadID: "l1"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := f.svc.SetResult(ctx, c.ID, Result{GarbageReason: "spam"}); !errors.Is(err, ErrResultAlreadySet) {
		t.Fatalf("expected ErrResultAlreadySet, got %v", err)
	}

	got, err := f.repo.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.ResultLeadID != "l1" || got.GarbageReason != "" {
		t.Fatalf("result overwritten: %+v", got)
	}
}

func TestUnassign_DeniedWhileAgentOnActiveChannel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	agent := f.startAgent(t, "sales")
	c, err := f.svc.CreateCase(ctx, CreateCaseParams{
		Source: SourceTelephonySession, CaseType: "inbound", WorkGroup: "sales",
		TelephonySessionID: "tel-1",
	})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	if err := f.svc.StartCase(ctx, c.ID, agent.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, ev := range []telephony.Event{
		{SessionID: "tel-1", Kind: telephony.EventChannelCreated, ChannelID: "agent", Metadata: map[string]string{telephony.MetaKeyReference: "agent"}},
		{SessionID: "tel-1", Kind: telephony.EventChannelStateSwitch, ChannelID: "agent", NewState: telephony.ChannelStateAnswered},
	} {
		if err := f.events.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	err = f.svc.Unassign(ctx, c.ID)
	var deniedErr *UnassignDeniedError
	if !errors.As(err, &deniedErr) {
		t.Fatalf("expected UnassignDeniedError, got %v", err)
	}
	if deniedErr.Reason != ReasonActiveAgentChannels {
		t.Fatalf("expected reason %q, got %q", ReasonActiveAgentChannels, deniedErr.Reason)
	}
}

func TestUnassign_AllowedAfterAgentHangsUp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	agent := f.startAgent(t, "sales")
	c, err := f.svc.CreateCase(ctx, CreateCaseParams{
		Source: SourceTelephonySession, CaseType: "inbound", WorkGroup: "sales",
		TelephonySessionID: "tel-1",
	})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	if err := f.svc.StartCase(ctx, c.ID, agent.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, ev := range []telephony.Event{
		{SessionID: "tel-1", Kind: telephony.EventChannelCreated, ChannelID: "agent", Metadata: map[string]string{telephony.MetaKeyReference: "agent"}},
		{SessionID: "tel-1", Kind: telephony.EventChannelStateSwitch, ChannelID: "agent", NewState: telephony.ChannelStateAnswered},
		{SessionID: "tel-1", Kind: telephony.EventChannelStateSwitch, ChannelID: "agent", NewState: telephony.ChannelStateHangup},
	} {
		if err := f.events.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if err := f.svc.Unassign(ctx, c.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	st, err := f.svc.State(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if st.Assigned || !st.Queued {
		t.Fatalf("unassigned open case goes back to the queue, got %+v", st)
	}
	log, err := f.sessions.Current(ctx, agent.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if log.Status != agentsession.StatusAwaitingCase {
		t.Fatalf("agent should be idle after unassignment, got %+v", log)
	}
}

func TestForceRelease(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	agent := f.startAgent(t, "sales")

	withResult := f.createCase(t, "sales")
	if err := f.svc.StartCase(ctx, withResult.ID, agent.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := f.svc.SetResult(ctx, withResult.ID, Result{AppointmentID: "a1"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := f.svc.ForceRelease(ctx, withResult.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	st, err := f.svc.State(ctx, withResult.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !st.Closed {
		t.Fatalf("case with result should be closed by force release, got %+v", st)
	}

	withoutResult := f.createCase(t, "sales")
	if err := f.svc.StartCase(ctx, withoutResult.ID, agent.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := f.svc.ForceRelease(ctx, withoutResult.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	st, err = f.svc.State(ctx, withoutResult.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if st.Assigned || !st.Queued || st.Closed {
		t.Fatalf("case without result should be requeued by force release, got %+v", st)
	}
}

// A forced session end releases blocking cases through this service, whose
// release path takes the holder's session lock itself. The full wiring has
// to go through: release, then end, without tripping over that lock.
func TestForceEndSession_ReleasesThroughCaseService(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	agent := f.startAgent(t, "sales")
	c := f.createCase(t, "sales")
	if err := f.svc.StartCase(ctx, c.ID, agent.ID); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if err := f.sessions.ForceEndSession(ctx, agent.ID, f.svc); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	session, err := f.sessions.Get(ctx, agent.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !session.Ended() {
		t.Fatalf("session should be ended after forced end")
	}
	st, err := f.svc.State(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if st.Assigned || !st.Queued {
		t.Fatalf("released case should be back in the queue, got %+v", st)
	}
}
