// Package orchestrator routes conversations to agents and streams their
// events. It keeps one session per conversation id, classifies each user
// message to pick an agent, performs hand-offs between agents, and
// persists every event before forwarding it to the caller.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/stallwart/switchboard/agent"
	"github.com/stallwart/switchboard/contextstore"
	ctxstore "github.com/stallwart/switchboard/contextstore/store"
	"github.com/stallwart/switchboard/conversation"
	"github.com/stallwart/switchboard/errors"
	"github.com/stallwart/switchboard/event"
	"github.com/stallwart/switchboard/eventlog"
	evstore "github.com/stallwart/switchboard/eventlog/store"
	"github.com/stallwart/switchboard/intent"
	"github.com/stallwart/switchboard/middleware"
	"github.com/stallwart/switchboard/middleware/errorhandler"
	"github.com/stallwart/switchboard/pkg/logging"
	"github.com/stallwart/switchboard/registry"
	"github.com/stallwart/switchboard/tool"
)

// RouterAgentID tags error events produced by routing itself, when no
// agent ever became responsible for the turn.
const RouterAgentID = "router"

// Orchestrator is the streaming manager. It is stateless over sessions:
// every call looks its session up by conversation id, so any number of
// conversations can be in flight concurrently.
type Orchestrator struct {
	registry   *registry.Registry
	store      contextstore.Store
	events     eventlog.Store
	classifier intent.Classifier
	executor   *tool.Executor
	middleware *middleware.Chain
	window     *conversation.Window
	tracer     trace.Tracer
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	// initialized tracks which (agent, user) pairs have run their one-time
	// Initialize hook.
	initMu      sync.Mutex
	initialized map[string]struct{}

	// turnSlots, when non-nil, caps turns in flight across conversations.
	turnSlots chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithContextStore sets the shared context store. Defaults to the
// in-process memory store.
func WithContextStore(store contextstore.Store) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithEventLog sets the event journal. Defaults to the in-memory store.
func WithEventLog(store eventlog.Store) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.events = store
		}
	}
}

// WithClassifier replaces the default keyword intent classifier.
func WithClassifier(c intent.Classifier) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithExecutor sets the tool executor whose per-user capability index the
// orchestrator warms when a conversation starts.
func WithExecutor(executor *tool.Executor) Option {
	return func(o *Orchestrator) {
		if executor != nil {
			o.executor = executor
		}
	}
}

// WithMiddleware appends middlewares to the turn chain, in order.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *Orchestrator) {
		for _, m := range mws {
			if m != nil {
				o.middleware.Add(m)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTokenWindow applies a history window before each turn reaches the
// agent.
func WithTokenWindow(w *conversation.Window) Option {
	return func(o *Orchestrator) {
		o.window = w
	}
}

// WithMaxConcurrentTurns caps turns in flight across all conversations.
// Zero or negative means unlimited.
func WithMaxConcurrentTurns(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.turnSlots = make(chan struct{}, n)
		}
	}
}

// WithTracer sets the tracer used to start one span per turn.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// New creates an orchestrator over the given agent registry. The turn
// chain starts with panic recovery; WithMiddleware appends inside it.
func New(reg *registry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    reg,
		store:       ctxstore.NewMemoryStore(),
		events:      evstore.NewInMemoryStore(),
		classifier:  intent.NewKeywordClassifier(),
		middleware:  middleware.NewChain(errorhandler.NewRecovery()),
		tracer:      otel.Tracer("github.com/stallwart/switchboard/orchestrator"),
		logger:      logging.WithComponent("orchestrator"),
		sessions:    make(map[string]*session),
		initialized: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartConversation opens (or re-opens) a session and ensures its shared
// context exists. Calling it again while the session lives is a no-op;
// after EndConversation it installs a fresh session for the id.
func (o *Orchestrator) StartConversation(ctx context.Context, conversationID, userID string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id is required: %w", errors.ErrInvalidInput)
	}
	if userID == "" {
		return fmt.Errorf("user id is required: %w", errors.ErrInvalidInput)
	}

	o.mu.Lock()
	sess, ok := o.sessions[conversationID]
	fresh := !ok || sess.phase() == StateEnded
	if fresh {
		sess = newSession(conversationID, userID)
		o.sessions[conversationID] = sess
	}
	o.mu.Unlock()

	// Create the shared context if needed and stamp the owner. Running this
	// on the idempotent path too means a failed first attempt can be
	// retried with the same call.
	upd := &contextstore.Update{UserID: userID}
	if err := o.store.UpdateSharedContext(ctx, conversationID, upd); err != nil {
		return fmt.Errorf("initialize shared context: %w", err)
	}

	if o.executor != nil {
		// Warm the user's tool capability index so the first turn does not
		// pay provider resolution latency.
		o.executor.Schemas(ctx, userID)
	}

	if fresh {
		o.logger.Info("conversation started",
			"conversation_id", conversationID, "user_id", userID)
	}
	return nil
}

// SwitchAgent overrides agent selection for the conversation's next turn,
// bypassing intent classification once. The agent must be registered.
func (o *Orchestrator) SwitchAgent(conversationID, agentID, reason string) error {
	sess, err := o.liveSession(conversationID)
	if err != nil {
		return err
	}
	if o.registry.Get(agentID) == nil {
		return fmt.Errorf("agent %s: %w", agentID, errors.ErrNotFound)
	}
	sess.requestSwitch(agentID, reason)
	o.logger.Info("agent switch requested",
		"conversation_id", conversationID, "agent_id", agentID, "reason", reason)
	return nil
}

// EndConversation closes the session: it snapshots the active agent's
// state, records the ending in the shared context, and persists and
// returns the conversation_end event. The id can be reused only through a
// new StartConversation.
func (o *Orchestrator) EndConversation(ctx context.Context, conversationID string) (*event.Event, error) {
	sess, err := o.liveSession(conversationID)
	if err != nil {
		return nil, err
	}

	sess.turnMu.Lock()
	defer sess.turnMu.Unlock()
	if sess.phase() == StateEnded {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, errors.ErrSessionEnded)
	}

	agentID, finalState := sess.outgoing()
	if agentID != "" && finalState != nil {
		if err := o.store.SaveAgentState(ctx, agentID, conversationID, finalState); err != nil {
			o.logger.Error("final agent state snapshot failed",
				"conversation_id", conversationID, "agent_id", agentID, "error", err)
		}
	}

	historyAgent := agentID
	if historyAgent == "" {
		historyAgent = "none"
	}
	o.appendHistory(ctx, conversationID, historyAgent, map[string]any{
		"action": "conversation_ended",
	})

	ev := event.NewConversationEnd()
	ev.ConversationID = conversationID
	o.persist(ctx, conversationID, ev)
	sess.setPhase(StateEnded)

	o.logger.Info("conversation ended",
		"conversation_id", conversationID, "last_agent", agentID)
	return ev, nil
}

// SessionState reports a session's lifecycle state and active agent id.
// The second return is false when the conversation id is unknown.
func (o *Orchestrator) SessionState(conversationID string) (State, string, bool) {
	o.mu.RLock()
	sess, ok := o.sessions[conversationID]
	o.mu.RUnlock()
	if !ok {
		return "", "", false
	}
	state, agentID := sess.snapshot()
	return state, agentID, true
}

// Events exposes the journal for the transport layer's replay endpoint.
func (o *Orchestrator) Events(ctx context.Context, conversationID string) ([]*eventlog.Record, error) {
	return o.events.Events(ctx, conversationID)
}

// Agents lists the registered agents in registration order.
func (o *Orchestrator) Agents() []registry.Summary {
	return o.registry.Summaries()
}

// liveSession returns the session for an id, or the sentinel describing
// why there is none to use.
func (o *Orchestrator) liveSession(conversationID string) (*session, error) {
	o.mu.RLock()
	sess, ok := o.sessions[conversationID]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, errors.ErrSessionNotFound)
	}
	if sess.phase() == StateEnded {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, errors.ErrSessionEnded)
	}
	return sess, nil
}

// ensureInitialized runs the agent's one-time Initialize hook the first
// time this user reaches it. The lock spans the call so the hook runs
// exactly once per (agent, user) even across concurrent conversations;
// failures are not cached, so the next turn retries.
func (o *Orchestrator) ensureInitialized(ctx context.Context, ag agent.Agent, userID string) error {
	key := ag.ID() + "|" + userID
	o.initMu.Lock()
	defer o.initMu.Unlock()
	if _, done := o.initialized[key]; done {
		return nil
	}
	if err := ag.Initialize(ctx, userID); err != nil {
		return err
	}
	o.initialized[key] = struct{}{}
	return nil
}

// appendHistory merges one agent history entry into the shared context.
// History failures degrade to a log line; they never fail the turn.
func (o *Orchestrator) appendHistory(ctx context.Context, conversationID, agentID string, details map[string]any) {
	upd := &contextstore.Update{
		AgentHistory: []contextstore.HistoryEntry{{
			AgentID:   agentID,
			Timestamp: time.Now(),
			Context:   details,
		}},
	}
	if err := o.store.UpdateSharedContext(ctx, conversationID, upd); err != nil {
		o.logger.Error("agent history update failed",
			"conversation_id", conversationID, "agent_id", agentID, "error", err)
	}
}

// persist journals one event before it is forwarded. A failed write is
// logged and never fails the turn. The write runs detached from the
// turn's cancellation, so an event already dispatched is not
// half-written.
func (o *Orchestrator) persist(ctx context.Context, conversationID string, ev *event.Event) {
	if err := o.events.AppendEvent(context.WithoutCancel(ctx), conversationID, ev); err != nil {
		o.logger.Error("event persistence failed",
			"conversation_id", conversationID, "event_id", ev.ID,
			"event_type", ev.Type, "error", err)
	}
}
