package orchestrator

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/stallwart/switchboard/agent"
	ctxstore "github.com/stallwart/switchboard/contextstore/store"
	"github.com/stallwart/switchboard/conversation"
	errorskg "github.com/stallwart/switchboard/errors"
	"github.com/stallwart/switchboard/event"
	"github.com/stallwart/switchboard/eventlog"
	evstore "github.com/stallwart/switchboard/eventlog/store"
	"github.com/stallwart/switchboard/message"
	"github.com/stallwart/switchboard/middleware/validator"
	"github.com/stallwart/switchboard/registry"
)

// fakeAgent is a scripted agent: it yields its chunks, then either fails,
// panics, or completes with a final state carrying a turn counter and the
// conversation id it served.
type fakeAgent struct {
	agent.Base

	mu      sync.Mutex
	inits   int
	initErr error
	chunks  []string
	failAt  int
	panics  bool
	started chan struct{}
	release chan struct{}
	states  []*agent.State
}

func newFakeAgent(id string, intents ...string) *fakeAgent {
	return &fakeAgent{
		Base: agent.NewBase(agent.Spec{ID: id, Name: id + " agent", Intents: intents}),
	}
}

func (a *fakeAgent) Initialize(_ context.Context, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inits++
	return a.initErr
}

func (a *fakeAgent) initCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inits
}

func (a *fakeAgent) Execute(_ context.Context, state *agent.State) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		a.mu.Lock()
		a.states = append(a.states, state)
		chunks := a.chunks
		failAt := a.failAt
		panics := a.panics
		started := a.started
		a.started = nil
		release := a.release
		a.mu.Unlock()

		if started != nil {
			close(started)
		}
		if release != nil {
			<-release
		}

		if len(chunks) == 0 {
			chunks = []string{"done"}
		}
		for i, chunk := range chunks {
			if failAt > 0 && i == failAt {
				yield(nil, errors.New("model unavailable"))
				return
			}
			if !yield(event.NewContentChunk(a.ID(), chunk), nil) {
				return
			}
		}
		if panics {
			panic("agent exploded")
		}

		turns := 1
		if prev, ok := state.AgentState["turns"].(int); ok {
			turns = prev + 1
		}
		yield(event.NewAgentComplete(a.ID(), map[string]any{
			"turns":        turns,
			"conversation": state.ConversationID,
		}), nil)
	}
}

func (a *fakeAgent) lastState() *agent.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.states) == 0 {
		return nil
	}
	return a.states[len(a.states)-1]
}

// recordingLog remembers the order events reached persistence.
type recordingLog struct {
	*evstore.InMemoryStore
	mu       sync.Mutex
	appended []string
}

func newRecordingLog() *recordingLog {
	return &recordingLog{InMemoryStore: evstore.NewInMemoryStore()}
}

func (l *recordingLog) AppendEvent(ctx context.Context, conversationID string, ev *event.Event) error {
	l.mu.Lock()
	l.appended = append(l.appended, ev.ID)
	l.mu.Unlock()
	return l.InMemoryStore.AppendEvent(ctx, conversationID, ev)
}

func (l *recordingLog) persisted(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.appended {
		if got == id {
			return true
		}
	}
	return false
}

// failingLog rejects every write.
type failingLog struct{}

func (failingLog) AppendEvent(context.Context, string, *event.Event) error {
	return errors.New("journal down")
}
func (failingLog) Events(context.Context, string) ([]*eventlog.Record, error) { return nil, nil }
func (failingLog) Count(context.Context, string) (int, error)                 { return 0, nil }
func (failingLog) Clear(context.Context, string) error                        { return nil }
func (failingLog) Close() error                                               { return nil }

func newTestOrchestrator(t *testing.T, agents ...agent.Agent) (*Orchestrator, *ctxstore.MemoryStore) {
	t.Helper()
	reg := registry.NewRegistry()
	for _, ag := range agents {
		if err := reg.Register(ag); err != nil {
			t.Fatalf("register agent: %v", err)
		}
	}
	st := ctxstore.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	return New(reg, WithContextStore(st)), st
}

func mustStart(t *testing.T, o *Orchestrator, conversationID, userID string) {
	t.Helper()
	if err := o.StartConversation(context.Background(), conversationID, userID); err != nil {
		t.Fatalf("start conversation: %v", err)
	}
}

func turnCtx(conversationID, userID string) *conversation.Context {
	return &conversation.Context{ConversationID: conversationID, UserID: userID}
}

func collectTurn(o *Orchestrator, ctx context.Context, text string, cc *conversation.Context) ([]*event.Event, error) {
	var events []*event.Event
	for ev, err := range o.ProcessMessage(ctx, text, cc) {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func eventTypes(events []*event.Event) []event.Type {
	types := make([]event.Type, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func assertTypes(t *testing.T, events []*event.Event, want ...event.Type) {
	t.Helper()
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("expected event types %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected event types %v, got %v", want, got)
		}
	}
}

func TestStartConversation(t *testing.T) {
	o, st := newTestOrchestrator(t, newFakeAgent("product", "product"))
	ctx := context.Background()

	mustStart(t, o, "conv-1", "user-1")

	state, agentID, ok := o.SessionState("conv-1")
	if !ok || state != StateIdle || agentID != "" {
		t.Fatalf("expected fresh idle session, got state=%s agent=%q ok=%v", state, agentID, ok)
	}

	sc, err := st.SharedContext(ctx, "conv-1")
	if err != nil {
		t.Fatalf("shared context: %v", err)
	}
	if sc.UserID != "user-1" {
		t.Errorf("expected shared context to carry the user, got %q", sc.UserID)
	}

	// Starting again while the session lives is a no-op.
	if err := o.StartConversation(ctx, "conv-1", "user-1"); err != nil {
		t.Fatalf("repeated start: %v", err)
	}
	if state, _, _ := o.SessionState("conv-1"); state != StateIdle {
		t.Errorf("repeated start must not reset the session, got %s", state)
	}

	if err := o.StartConversation(ctx, "", "user-1"); !errors.Is(err, errorskg.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty conversation id, got %v", err)
	}
}

func TestProcessMessageWithoutSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeAgent("product", "product"))

	events, err := collectTurn(o, context.Background(), "hello", turnCtx("ghost", "user-1"))
	if !errors.Is(err, errorskg.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %v", eventTypes(events))
	}
}

func TestProcessMessageNoAgents(t *testing.T) {
	o := New(registry.NewRegistry())
	mustStart(t, o, "conv-1", "user-1")

	events, err := collectTurn(o, context.Background(), "hello there", turnCtx("conv-1", "user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %v", eventTypes(events))
	}
	ev := events[0]
	if ev.Type != event.TypeError || ev.AgentID != RouterAgentID {
		t.Errorf("expected router error event, got type=%s agent=%s", ev.Type, ev.AgentID)
	}
	if !ev.IsTerminal() {
		t.Error("router error must be terminal")
	}
	if state, _, _ := o.SessionState("conv-1"); state != StateIdle {
		t.Errorf("routing miss must leave the session idle, got %s", state)
	}
}

func TestFirstTurnEndToEnd(t *testing.T) {
	product := newFakeAgent("product", "product", "listing")
	product.chunks = []string{"Creating", " the listing"}
	o, st := newTestOrchestrator(t, product)
	ctx := context.Background()
	mustStart(t, o, "conv-1", "user-1")

	events, err := collectTurn(o, ctx, "create a new product listing", turnCtx("conv-1", "user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertTypes(t, events,
		event.TypeAgentSwitch, event.TypeAgentStart,
		event.TypeContentChunk, event.TypeContentChunk, event.TypeAgentComplete)

	sw := events[0]
	if sw.FromAgent != "none" || sw.ToAgent != "product" {
		t.Errorf("expected switch none->product, got %s->%s", sw.FromAgent, sw.ToAgent)
	}
	if sw.Reason != "intent: product_management" {
		t.Errorf("unexpected switch reason %q", sw.Reason)
	}
	start := events[1]
	if start.AgentID != "product" || start.AgentName != "product agent" {
		t.Errorf("unexpected agent_start identity %s/%s", start.AgentID, start.AgentName)
	}
	final := events[len(events)-1]
	if final.FinalState["turns"] != 1 {
		t.Errorf("expected first turn counter, got %v", final.FinalState["turns"])
	}
	for _, ev := range events {
		if ev.ConversationID != "conv-1" {
			t.Errorf("event %s missing conversation stamp: %q", ev.Type, ev.ConversationID)
		}
	}

	state, agentID, _ := o.SessionState("conv-1")
	if state != StateAgentActive || agentID != "product" {
		t.Errorf("expected active product session, got %s/%s", state, agentID)
	}
	saved, err := st.AgentState(ctx, "product", "conv-1")
	if err != nil || saved["turns"] != 1 {
		t.Errorf("expected persisted final state, got %v (err %v)", saved, err)
	}
}

func TestHandoffOrderAndSnapshot(t *testing.T) {
	product := newFakeAgent("product", "product")
	pricing := newFakeAgent("pricing", "pricing")
	o, st := newTestOrchestrator(t, product, pricing)
	ctx := context.Background()
	mustStart(t, o, "conv-1", "user-1")

	if _, err := collectTurn(o, ctx, "add product item", turnCtx("conv-1", "user-1")); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	var events []*event.Event
	for ev, err := range o.ProcessMessage(ctx, "set the price to 20", turnCtx("conv-1", "user-1")) {
		if err != nil {
			t.Fatalf("second turn: %v", err)
		}
		if ev.Type == event.TypeAgentSwitch {
			// The outgoing agent's state must already be on record when the
			// switch becomes visible.
			saved, serr := st.AgentState(ctx, "product", "conv-1")
			if serr != nil || saved["turns"] != 1 {
				t.Errorf("outgoing state not retrievable at switch time: %v (err %v)", saved, serr)
			}
		}
		events = append(events, ev)
	}
	assertTypes(t, events,
		event.TypeAgentSwitch, event.TypeAgentStart,
		event.TypeContentChunk, event.TypeAgentComplete)
	if events[0].FromAgent != "product" || events[0].ToAgent != "pricing" {
		t.Errorf("expected product->pricing, got %s->%s", events[0].FromAgent, events[0].ToAgent)
	}

	sc, err := st.SharedContext(ctx, "conv-1")
	if err != nil {
		t.Fatalf("shared context: %v", err)
	}
	var actions []string
	var agents []string
	for _, entry := range sc.AgentHistory {
		if action, ok := entry.Context["action"].(string); ok {
			actions = append(actions, action)
			agents = append(agents, entry.AgentID)
		}
	}
	wantActions := []string{"agent_switched_in", "agent_switched_out", "agent_switched_in"}
	wantAgents := []string{"product", "product", "pricing"}
	if len(actions) != len(wantActions) {
		t.Fatalf("expected history actions %v, got %v", wantActions, actions)
	}
	for i := range wantActions {
		if actions[i] != wantActions[i] || agents[i] != wantAgents[i] {
			t.Fatalf("expected history %v by %v, got %v by %v", wantActions, wantAgents, actions, agents)
		}
	}
}

func TestSwitchAgentOverride(t *testing.T) {
	product := newFakeAgent("product", "product")
	pricing := newFakeAgent("pricing", "pricing")
	o, _ := newTestOrchestrator(t, product, pricing)
	ctx := context.Background()
	mustStart(t, o, "conv-1", "user-1")

	if _, err := collectTurn(o, ctx, "add product item", turnCtx("conv-1", "user-1")); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	if err := o.SwitchAgent("conv-1", "pricing", "operator request"); err != nil {
		t.Fatalf("switch agent: %v", err)
	}

	// The override wins over classification exactly once.
	events, err := collectTurn(o, ctx, "add another product item", turnCtx("conv-1", "user-1"))
	if err != nil {
		t.Fatalf("override turn: %v", err)
	}
	if events[0].Type != event.TypeAgentSwitch || events[0].ToAgent != "pricing" {
		t.Fatalf("expected forced switch to pricing, got %v", eventTypes(events))
	}
	if events[0].Reason != "operator request" {
		t.Errorf("expected caller reason on the switch, got %q", events[0].Reason)
	}

	events, err = collectTurn(o, ctx, "add a third product item", turnCtx("conv-1", "user-1"))
	if err != nil {
		t.Fatalf("post-override turn: %v", err)
	}
	if events[0].Type != event.TypeAgentSwitch || events[0].ToAgent != "product" {
		t.Fatalf("expected classification to resume, got %v", eventTypes(events))
	}
}

func TestSwitchAgentValidation(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeAgent("product", "product"))
	mustStart(t, o, "conv-1", "user-1")

	if err := o.SwitchAgent("conv-1", "ghost", "testing"); !errors.Is(err, errorskg.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown agent, got %v", err)
	}
	if err := o.SwitchAgent("missing", "product", "testing"); !errors.Is(err, errorskg.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPendingSwitchToUnregisteredAgent(t *testing.T) {
	product := newFakeAgent("product", "product")
	pricing := newFakeAgent("pricing", "pricing")
	reg := registry.NewRegistry()
	if err := reg.Register(product); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(pricing); err != nil {
		t.Fatal(err)
	}
	o := New(reg)
	ctx := context.Background()
	mustStart(t, o, "conv-1", "user-1")

	if err := o.SwitchAgent("conv-1", "pricing", "operator request"); err != nil {
		t.Fatalf("switch agent: %v", err)
	}
	reg.Unregister("pricing")

	events, err := collectTurn(o, ctx, "add product item", turnCtx("conv-1", "user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Type != event.TypeError || events[0].AgentID != RouterAgentID {
		t.Fatalf("expected single router error, got %v", eventTypes(events))
	}

	// The stale override is consumed; classification takes the next turn.
	events, err = collectTurn(o, ctx, "add product item", turnCtx("conv-1", "user-1"))
	if err != nil {
		t.Fatalf("recovery turn: %v", err)
	}
	if events[0].Type != event.TypeAgentSwitch || events[0].ToAgent != "product" {
		t.Fatalf("expected classified routing to product, got %v", eventTypes(events))
	}
}

func TestInitializeOncePerUser(t *testing.T) {
	product := newFakeAgent("product", "product")
	o, _ := newTestOrchestrator(t, product)
	ctx := context.Background()

	mustStart(t, o, "conv-1", "user-1")
	mustStart(t, o, "conv-2", "user-1")
	mustStart(t, o, "conv-3", "user-2")

	for _, conv := range []string{"conv-1", "conv-1", "conv-2"} {
		if _, err := collectTurn(o, ctx, "add product item", turnCtx(conv, "user-1")); err != nil {
			t.Fatalf("turn on %s: %v", conv, err)
		}
	}
	if got := product.initCount(); got != 1 {
		t.Errorf("expected one initialization for user-1, got %d", got)
	}

	if _, err := collectTurn(o, ctx, "add product item", turnCtx("conv-3", "user-2")); err != nil {
		t.Fatalf("turn for user-2: %v", err)
	}
	if got := product.initCount(); got != 2 {
		t.Errorf("expected a separate initialization for user-2, got %d", got)
	}
}

func TestInitializeFailureRetries(t *testing.T) {
	product := newFakeAgent("product", "product")
	product.initErr = errors.New("warehouse unreachable")
	o, _ := newTestOrchestrator(t, product)
	ctx := context.Background()
	mustStart(t, o, "conv-1", "user-1")

	events, err := collectTurn(o, ctx, "add product item", turnCtx("conv-1", "user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertTypes(t, events, event.TypeAgentSwitch, event.TypeError)
	if events[1].AgentID != "product" || !strings.Contains(events[1].Error, "initialize") {
		t.Errorf("expected initialize failure event, got %+v", events[1])
	}
	if state, agentID, _ := o.SessionState("conv-1"); state != StateIdle || agentID != "" {
		t.Errorf("failed hand-off must leave the session idle, got %s/%s", state, agentID)
	}

	product.mu.Lock()
	product.initErr = nil
	product.mu.Unlock()

	events, err = collectTurn(o, ctx, "add product item", turnCtx("conv-1", "user-1"))
	if err != nil {
		t.Fatalf("retry turn: %v", err)
	}
	assertTypes(t, events,
		event.TypeAgentSwitch, event.TypeAgentStart,
		event.TypeContentChunk, event.TypeAgentComplete)
	if got := product.initCount(); got != 2 {
		t.Errorf("failed initialization must be retried, got %d calls", got)
	}
}

func TestAgentErrorMidStream(t *testing.T) {
	product := newFakeAgent("product", "product")
	product.chunks = []string{"partial", "never sent"}
	product.failAt = 1
	o, _ := newTestOrchestrator(t, product)
	ctx := context.Background()
	mustStart(t, o, "conv-1", "user-1")

	events, err := collectTurn(o, ctx, "add product item", turnCtx("conv-1", "user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertTypes(t, events,
		event.TypeAgentSwitch, event.TypeAgentStart,
		event.TypeContentChunk, event.TypeError)
	errEv := events[len(events)-1]
	if errEv.AgentID != "product" || !strings.Contains(errEv.Error, "model unavailable") {
		t.Errorf("expected agent-tagged error, got %+v", errEv)
	}

	// The session survives the failed turn.
	product.mu.Lock()
	product.failAt = 0
	product.mu.Unlock()
	events, err = collectTurn(o, ctx, "add product item", turnCtx("conv-1", "user-1"))
	if err != nil {
		t.Fatalf("recovery turn: %v", err)
	}
	assertTypes(t, events,
		event.TypeAgentStart, event.TypeContentChunk,
		event.TypeContentChunk, event.TypeAgentComplete)
}

func TestAgentPanicBecomesErrorEvent(t *testing.T) {
	product := newFakeAgent("product", "product")
	product.chunks = []string{"partial"}
	product.panics = true
	o, _ := newTestOrchestrator(t, product)
	mustStart(t, o, "conv-1", "user-1")

	events, err := collectTurn(o, context.Background(), "add product item", turnCtx("conv-1", "user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertTypes(t, events,
		event.TypeAgentSwitch, event.TypeAgentStart,
		event.TypeContentChunk, event.TypeError)
	errEv := events[len(events)-1]
	if errEv.AgentID != "product" || !strings.Contains(errEv.Error, "agent exploded") {
		t.Errorf("expected panic converted to agent error, got %+v", errEv)
	}
}

func TestPersistThenForward(t *testing.T) {
	product := newFakeAgent("product", "product")
	product.chunks = []string{"one", "two"}
	reg := registry.NewRegistry()
	if err := reg.Register(product); err != nil {
		t.Fatal(err)
	}
	journal := newRecordingLog()
	o := New(reg, WithEventLog(journal))
	ctx := context.Background()
	mustStart(t, o, "conv-1", "user-1")

	var received []string
	for ev, err := range o.ProcessMessage(ctx, "add product item", turnCtx("conv-1", "user-1")) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !journal.persisted(ev.ID) {
			t.Errorf("event %s (%s) forwarded before persistence", ev.ID, ev.Type)
		}
		received = append(received, ev.ID)
	}

	records, err := o.Events(ctx, "conv-1")
	if err != nil {
		t.Fatalf("journal read: %v", err)
	}
	if len(records) != len(received) {
		t.Fatalf("journal has %d events, caller saw %d", len(records), len(received))
	}
	for i, rec := range records {
		if rec.Event.ID != received[i] {
			t.Errorf("journal order diverges at %d: %s vs %s", i, rec.Event.ID, received[i])
		}
	}
}

func TestPersistenceFailureDoesNotBlockForwarding(t *testing.T) {
	product := newFakeAgent("product", "product")
	reg := registry.NewRegistry()
	if err := reg.Register(product); err != nil {
		t.Fatal(err)
	}
	o := New(reg, WithEventLog(failingLog{}))
	mustStart(t, o, "conv-1", "user-1")

	events, err := collectTurn(o, context.Background(), "add product item", turnCtx("conv-1", "user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertTypes(t, events,
		event.TypeAgentSwitch, event.TypeAgentStart,
		event.TypeContentChunk, event.TypeAgentComplete)
}

func TestCancellationStopsForwarding(t *testing.T) {
	product := newFakeAgent("product", "product")
	product.chunks = []string{"one", "two", "three"}
	o, _ := newTestOrchestrator(t, product)
	mustStart(t, o, "conv-1", "user-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []*event.Event
	var turnErr error
	for ev, err := range o.ProcessMessage(ctx, "add product item", turnCtx("conv-1", "user-1")) {
		if err != nil {
			turnErr = err
			break
		}
		events = append(events, ev)
		if ev.Type == event.TypeContentChunk {
			cancel()
		}
	}

	if !errors.Is(turnErr, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", turnErr)
	}
	assertTypes(t, events,
		event.TypeAgentSwitch, event.TypeAgentStart, event.TypeContentChunk)
}

func TestEndConversation(t *testing.T) {
	product := newFakeAgent("product", "product")
	o, st := newTestOrchestrator(t, product)
	ctx := context.Background()
	mustStart(t, o, "conv-1", "user-1")

	if _, err := collectTurn(o, ctx, "add product item", turnCtx("conv-1", "user-1")); err != nil {
		t.Fatalf("turn: %v", err)
	}

	ev, err := o.EndConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("end conversation: %v", err)
	}
	if ev.Type != event.TypeConversationEnd || ev.ConversationID != "conv-1" {
		t.Errorf("unexpected end event %+v", ev)
	}

	records, err := o.Events(ctx, "conv-1")
	if err != nil {
		t.Fatalf("journal read: %v", err)
	}
	if records[len(records)-1].Event.Type != event.TypeConversationEnd {
		t.Error("conversation_end must be journaled last")
	}

	sc, err := st.SharedContext(ctx, "conv-1")
	if err != nil {
		t.Fatalf("shared context: %v", err)
	}
	last := sc.AgentHistory[len(sc.AgentHistory)-1]
	if last.Context["action"] != "conversation_ended" {
		t.Errorf("expected conversation_ended history entry, got %v", last.Context)
	}

	if state, _, _ := o.SessionState("conv-1"); state != StateEnded {
		t.Errorf("expected ended session, got %s", state)
	}

	if _, err := collectTurn(o, ctx, "hello", turnCtx("conv-1", "user-1")); !errors.Is(err, errorskg.ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded on turn after end, got %v", err)
	}
	if _, err := o.EndConversation(ctx, "conv-1"); !errors.Is(err, errorskg.ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded on double end, got %v", err)
	}
	if err := o.SwitchAgent("conv-1", "product", "late"); !errors.Is(err, errorskg.ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded on switch after end, got %v", err)
	}
	if _, err := o.EndConversation(ctx, "never-started"); !errors.Is(err, errorskg.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	// A fresh start reopens the id.
	mustStart(t, o, "conv-1", "user-1")
	if state, _, _ := o.SessionState("conv-1"); state != StateIdle {
		t.Errorf("expected reopened idle session, got %s", state)
	}
	if _, err := collectTurn(o, ctx, "add product item", turnCtx("conv-1", "user-1")); err != nil {
		t.Errorf("turn after reopen: %v", err)
	}
}

func TestConversationIsolation(t *testing.T) {
	product := newFakeAgent("product", "product")
	o, st := newTestOrchestrator(t, product)
	ctx := context.Background()
	mustStart(t, o, "conv-1", "user-1")
	mustStart(t, o, "conv-2", "user-1")

	conversations := []string{"conv-1", "conv-2"}
	results := make([][]*event.Event, len(conversations))
	var wg sync.WaitGroup
	for i, conv := range conversations {
		wg.Add(1)
		go func(idx int, conv string) {
			defer wg.Done()
			events, err := collectTurn(o, ctx, "add product item", turnCtx(conv, "user-1"))
			if err != nil {
				t.Errorf("turn on %s: %v", conv, err)
			}
			results[idx] = events
		}(i, conv)
	}
	wg.Wait()

	for i, conv := range conversations {
		for _, ev := range results[i] {
			if ev.ConversationID != conv {
				t.Errorf("event %s leaked across conversations: stamped %q in %s stream",
					ev.Type, ev.ConversationID, conv)
			}
		}
		saved, err := st.AgentState(ctx, "product", conv)
		if err != nil || saved["conversation"] != conv {
			t.Errorf("state for %s contaminated: %v (err %v)", conv, saved, err)
		}
		records, err := o.Events(ctx, conv)
		if err != nil || len(records) != len(results[i]) {
			t.Errorf("journal for %s has %d records, stream had %d", conv, len(records), len(results[i]))
		}
	}
	if got := product.initCount(); got != 1 {
		t.Errorf("same user must initialize the agent once across conversations, got %d", got)
	}
}

func TestMaxConcurrentTurns(t *testing.T) {
	product := newFakeAgent("product", "product")
	started := make(chan struct{})
	release := make(chan struct{})
	product.started = started
	product.release = release
	reg := registry.NewRegistry()
	if err := reg.Register(product); err != nil {
		t.Fatal(err)
	}
	o := New(reg, WithMaxConcurrentTurns(1))
	ctx := context.Background()
	mustStart(t, o, "conv-1", "user-1")
	mustStart(t, o, "conv-2", "user-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := collectTurn(o, ctx, "add product item", turnCtx("conv-1", "user-1")); err != nil {
			t.Errorf("blocked turn: %v", err)
		}
	}()
	<-started

	// The only slot is taken; a cancelled waiter gives up cleanly.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	events, err := collectTurn(o, cancelled, "add product item", turnCtx("conv-2", "user-1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled while gated, got %v", err)
	}
	if len(events) != 0 {
		t.Errorf("gated turn must not emit events, got %v", eventTypes(events))
	}

	close(release)
	<-done

	// The slot is free again.
	if _, err := collectTurn(o, ctx, "add product item", turnCtx("conv-2", "user-1")); err != nil {
		t.Fatalf("turn after release: %v", err)
	}
}

func TestTokenWindowApplied(t *testing.T) {
	product := newFakeAgent("product", "product")
	reg := registry.NewRegistry()
	if err := reg.Register(product); err != nil {
		t.Fatal(err)
	}
	o := New(reg, WithTokenWindow(conversation.NewWindow(conversation.WithMaxMessages(2))))
	mustStart(t, o, "conv-1", "user-1")

	cc := turnCtx("conv-1", "user-1")
	cc.History = []*message.Message{
		message.NewMessage(message.RoleUser, "first"),
		message.NewMessage(message.RoleAssistant, "first reply"),
		message.NewMessage(message.RoleUser, "second"),
		message.NewMessage(message.RoleAssistant, "second reply"),
	}
	if _, err := collectTurn(o, context.Background(), "add product item", cc); err != nil {
		t.Fatalf("turn: %v", err)
	}

	state := product.lastState()
	if state == nil {
		t.Fatal("agent never executed")
	}
	if len(state.History) != 2 {
		t.Fatalf("expected windowed history of 2, got %d", len(state.History))
	}
	if state.History[0].Content != "second" || state.History[1].Content != "second reply" {
		t.Errorf("window must keep the most recent messages, got %q and %q",
			state.History[0].Content, state.History[1].Content)
	}
}

func TestValidationMiddlewareRejectsTurn(t *testing.T) {
	product := newFakeAgent("product", "product")
	reg := registry.NewRegistry()
	if err := reg.Register(product); err != nil {
		t.Fatal(err)
	}
	o := New(reg, WithMiddleware(validator.NewInputValidator(nil)))
	mustStart(t, o, "conv-1", "user-1")

	events, err := collectTurn(o, context.Background(), "   ", turnCtx("conv-1", "user-1"))
	if !errors.Is(err, errorskg.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(events) != 0 {
		t.Errorf("rejected turn must not emit events, got %v", eventTypes(events))
	}
}
