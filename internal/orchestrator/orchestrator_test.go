// ABOUTME: Tests for the Orchestrator against the in-memory assistant backend and MockStore
// ABOUTME: Covers thread reuse, preamble, tool rounds, fallbacks, readiness hint and per-contact serialization

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesgenio/lead-gateway/internal/assistant"
	"github.com/salesgenio/lead-gateway/internal/qualify"
	"github.com/salesgenio/lead-gateway/internal/run"
	"github.com/salesgenio/lead-gateway/internal/store"
	"github.com/salesgenio/lead-gateway/internal/tools"
)

type fixture struct {
	orch    *Orchestrator
	backend *assistant.Fake
	store   *store.MockStore
	contact *store.Contact
	org     tools.OrgContext
}

func newFixture(t *testing.T, pollTimeout time.Duration) *fixture {
	t.Helper()
	ctx := context.Background()

	s := store.NewMockStore()
	org := &store.Organization{
		Name:          "Acme Robotics",
		BusinessModel: store.BusinessModelB2B,
		Industry:      "Manufacturing",
		Website:       "https://acme.example",
		MeetingLink:   "https://cal.example/acme",
	}
	require.NoError(t, s.CreateOrganization(ctx, org))
	contact := &store.Contact{OrganizationID: org.ID, Name: "Dana", Phone: "+1 555 0100"}
	require.NoError(t, s.CreateContact(ctx, contact))

	backend := assistant.NewFake()
	reg := tools.NewRegistry(tools.RegistryConfig{})
	require.NoError(t, reg.Register(tools.Builtins()...))

	preamble, err := NewTemplatePreamble(s, nil)
	require.NoError(t, err)

	orch, err := New(Config{
		Backend: backend,
		Store:   s,
		Scorer:  qualify.NewScorer(qualify.ScorerConfig{Mode: qualify.ModeHeuristic}),
		Tools:   reg,
		Poller: run.NewPoller(run.PollerConfig{
			Backend:         backend,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			Timeout:         pollTimeout,
		}),
		Preamble: preamble,
	})
	require.NoError(t, err)

	return &fixture{
		orch:    orch,
		backend: backend,
		store:   s,
		contact: contact,
		org: tools.OrgContext{
			OrganizationID: org.ID,
			BusinessName:   org.Name,
			BusinessModel:  string(org.BusinessModel),
			MeetingLink:    org.MeetingLink,
			Website:        org.Website,
			Industry:       org.Industry,
			Catalog:        s,
		},
	}
}

func (f *fixture) thread(t *testing.T) string {
	t.Helper()
	id, err := f.store.LoadThreadFor(context.Background(), f.contact.ID)
	require.NoError(t, err)
	return id
}

func TestOrchestrator_RunTurn_ReusesThreadAndPostsPreambleOnce(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	assert.Equal(t, "You said: hello", f.orch.RunTurn(ctx, f.contact.ID, "hello", f.org))
	assert.Equal(t, "You said: again", f.orch.RunTurn(ctx, f.contact.ID, "again", f.org))

	assert.Equal(t, 1, f.backend.ThreadsCreated())

	msgs := f.backend.Messages(f.thread(t))
	require.Len(t, msgs, 5)
	assert.Contains(t, msgs[0].Text, "You're speaking with Dana")
	assert.Contains(t, msgs[0].Text, "Industry: Manufacturing")
	assert.Equal(t, "hello", msgs[1].Text)
	assert.Equal(t, "again", msgs[3].Text)

	preambles := 0
	for _, m := range msgs {
		if strings.Contains(m.Text, "You're speaking with") {
			preambles++
		}
	}
	assert.Equal(t, 1, preambles)

	exchanges, err := f.store.ListExchanges(ctx, f.contact.ID, 0)
	require.NoError(t, err)
	require.Len(t, exchanges, 2)
	assert.Equal(t, "hello", exchanges[0].Input)
	assert.Equal(t, "You said: hello", exchanges[0].Response)
	assert.Equal(t, f.thread(t), exchanges[0].ThreadID)
}

func TestOrchestrator_RunTurn_OffersRegisteredTools(t *testing.T) {
	f := newFixture(t, time.Second)

	f.orch.RunTurn(context.Background(), f.contact.ID, "hi", f.org)

	defs := f.backend.ToolDefinitions()
	require.Len(t, defs, 1)
	var names []string
	for _, d := range defs[0] {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"get_business_info", "get_meeting_link", "get_product", "list_products"}, names)
}

func TestOrchestrator_RunTurn_ResolvesToolCallsWithOrgContext(t *testing.T) {
	f := newFixture(t, time.Second)
	f.backend.Queue(assistant.RunPlan{
		InProgressPolls: 1,
		ToolCalls: []tools.Call{
			{ID: "call_1", Name: "get_meeting_link", Arguments: json.RawMessage(`{}`)},
			{ID: "call_2", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Oslo"}`)},
		},
		Reply: "Here is the link: https://cal.example/acme",
	})

	reply := f.orch.RunTurn(context.Background(), f.contact.ID, "can we book a call?", f.org)
	assert.Equal(t, "Here is the link: https://cal.example/acme", reply)

	subs := f.backend.Submissions()
	require.Len(t, subs, 1)
	require.Len(t, subs[0], 2)
	assert.Equal(t, "call_1", subs[0][0].CallID)
	assert.JSONEq(t, `{"meeting_link":"https://cal.example/acme"}`, string(subs[0][0].Payload))
	assert.Equal(t, "call_2", subs[0][1].CallID)
	assert.Equal(t, tools.UnsupportedTool, subs[0][1].ErrorMessage)
}

func TestOrchestrator_RunTurn_ExpiredRunFallsBack(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.backend.Queue(assistant.RunPlan{NeverFinish: true})

	turn := f.orch.Turn(context.Background(), f.contact.ID, "hello?", f.org)
	assert.Equal(t, RephraseReply, turn.Reply)
	assert.True(t, turn.Fallback)
	assert.Equal(t, run.Expired, turn.RunStatus)
	assert.Len(t, f.backend.Cancelled(), 1)

	exchanges, err := f.store.ListExchanges(context.Background(), f.contact.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, exchanges)
}

func TestOrchestrator_RunTurn_FailedRunFallsBack(t *testing.T) {
	f := newFixture(t, time.Second)
	f.backend.Queue(assistant.RunPlan{FinalStatus: run.Failed})

	assert.Equal(t, RephraseReply, f.orch.RunTurn(context.Background(), f.contact.ID, "hello", f.org))
}

func TestOrchestrator_RunTurn_CompletedWithoutReplyFallsBack(t *testing.T) {
	f := newFixture(t, time.Second)
	f.backend.Queue(assistant.RunPlan{})

	assert.Equal(t, RephraseReply, f.orch.RunTurn(context.Background(), f.contact.ID, "hello", f.org))
}

func TestOrchestrator_RunTurn_StoreErrorIsTechnical(t *testing.T) {
	f := newFixture(t, time.Second)
	f.store.LoadThreadErr = errors.New("disk on fire")

	turn := f.orch.Turn(context.Background(), f.contact.ID, "hello", f.org)
	assert.Equal(t, TechnicalReply, turn.Reply)
	assert.True(t, turn.Fallback)
	assert.Equal(t, 0, f.backend.ThreadsCreated())
}

func TestOrchestrator_RunTurn_EmptyMessage(t *testing.T) {
	f := newFixture(t, time.Second)

	assert.Equal(t, RephraseReply, f.orch.RunTurn(context.Background(), f.contact.ID, "   ", f.org))
	assert.Equal(t, 0, f.backend.ThreadsCreated())
}

func TestOrchestrator_RunTurn_AppendsHintWhenReady(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	msg := "We have budget approved and need this by next quarter due to a scaling problem"
	turn := f.orch.Turn(ctx, f.contact.ID, msg, f.org)
	require.False(t, turn.Fallback)
	assert.True(t, turn.MeetingReady)
	assert.Equal(t, 75, turn.Qualification.Score())

	msgs := f.backend.Messages(turn.ThreadID)
	require.Len(t, msgs, 3)
	assert.Equal(t, msg+DisclosureHint, msgs[1].Text)

	// The exchange stores what the lead wrote, not the hint
	exchanges, err := f.store.ListExchanges(ctx, f.contact.ID, 0)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, msg, exchanges[0].Input)

	state, err := f.store.LoadQualification(ctx, f.contact.ID)
	require.NoError(t, err)
	assert.True(t, state.MeetingReady())
}

func TestOrchestrator_RunTurn_QualificationAccumulates(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	first := f.orch.Turn(ctx, f.contact.ID, "We have a problem with churn", f.org)
	assert.True(t, first.Qualification.Need)
	assert.False(t, first.MeetingReady)
	assert.NotContains(t, f.backend.Messages(first.ThreadID)[1].Text, DisclosureHint)

	second := f.orch.Turn(ctx, f.contact.ID, "Our budget is fine and we want it next quarter", f.org)
	assert.True(t, second.Qualification.Need, "criteria never revert")
	assert.True(t, second.MeetingReady)
}

func TestOrchestrator_RunTurn_SerializesPerContact(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	// The fake refuses a second active run on one thread, so overlapping turns
	// would surface as fallbacks.
	f.backend.PlanFor = func(text string) assistant.RunPlan {
		return assistant.RunPlan{InProgressPolls: 3, Reply: "re: " + text}
	}

	const turns = 5
	replies := make([]string, turns)
	var wg sync.WaitGroup
	for i := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replies[i] = f.orch.RunTurn(context.Background(), f.contact.ID, "message", f.org)
		}()
	}
	wg.Wait()

	for _, r := range replies {
		assert.Equal(t, "re: message", r)
	}
	assert.Equal(t, 1, f.backend.ThreadsCreated())
	assert.Equal(t, 0, f.orch.locks.size())
}

func TestOrchestrator_RunTurn_DifferentContactsGetOwnThreads(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	other := &store.Contact{OrganizationID: f.org.OrganizationID, Name: "Lee", Phone: "+1 555 0101"}
	require.NoError(t, f.store.CreateContact(ctx, other))

	f.orch.RunTurn(ctx, f.contact.ID, "one", f.org)
	f.orch.RunTurn(ctx, other.ID, "two", f.org)

	otherThread, err := f.store.LoadThreadFor(ctx, other.ID)
	require.NoError(t, err)
	assert.NotEqual(t, f.thread(t), otherThread)
	assert.Equal(t, 2, f.backend.ThreadsCreated())
	assert.Contains(t, f.backend.Messages(otherThread)[0].Text, "You're speaking with Lee")
}

func TestOrchestrator_ResetConversation(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	f.orch.RunTurn(ctx, f.contact.ID, "We have a problem with churn", f.org)
	first := f.thread(t)

	require.NoError(t, f.orch.ResetConversation(ctx, f.contact.ID))
	assert.Empty(t, f.thread(t))
	state, err := f.store.LoadQualification(ctx, f.contact.ID)
	require.NoError(t, err)
	assert.Equal(t, qualify.State{}, state)

	f.orch.RunTurn(ctx, f.contact.ID, "hello again", f.org)
	assert.NotEqual(t, first, f.thread(t))
	assert.Equal(t, 2, f.backend.ThreadsCreated())
}

func TestOrchestrator_CancelledContextWhileWaitingForLock(t *testing.T) {
	f := newFixture(t, time.Second)

	unlock, err := f.orch.locks.Lock(context.Background(), f.contact.ID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, TechnicalReply, f.orch.RunTurn(ctx, f.contact.ID, "hello", f.org))
	assert.Equal(t, 0, f.backend.ThreadsCreated())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
