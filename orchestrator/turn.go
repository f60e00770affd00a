package orchestrator

import (
	"context"
	"fmt"
	"iter"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stallwart/switchboard/agent"
	"github.com/stallwart/switchboard/contextstore"
	"github.com/stallwart/switchboard/conversation"
	"github.com/stallwart/switchboard/errors"
	"github.com/stallwart/switchboard/event"
	"github.com/stallwart/switchboard/message"
	"github.com/stallwart/switchboard/middleware"
	"github.com/stallwart/switchboard/pkg/telemetry"
)

// ProcessMessage runs one turn: classify the message, route it to an agent
// (honoring a pending SwitchAgent override), hand off if the agent
// changed, then stream the agent's events. Every event is persisted before
// it is yielded, and the sequence finishes with a terminal event unless
// the caller cancels or stops consuming early.
func (o *Orchestrator) ProcessMessage(ctx context.Context, text string, convCtx *conversation.Context) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		if err := convCtx.Validate(); err != nil {
			yield(nil, err)
			return
		}
		sess, err := o.liveSession(convCtx.ConversationID)
		if err != nil {
			yield(nil, err)
			return
		}

		if o.turnSlots != nil {
			select {
			case o.turnSlots <- struct{}{}:
				defer func() { <-o.turnSlots }()
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}

		sess.turnMu.Lock()
		defer sess.turnMu.Unlock()

		// The session may have ended while this turn waited its turn.
		if sess.phase() == StateEnded {
			yield(nil, fmt.Errorf("conversation %s: %w", convCtx.ConversationID, errors.ErrSessionEnded))
			return
		}

		ctx, span := o.tracer.Start(ctx, "orchestrator.process_message",
			trace.WithAttributes(
				attribute.String("conversation.id", convCtx.ConversationID),
				attribute.String("user.id", convCtx.UserID),
			))

		em := &emitter{o: o, ctx: ctx, conversationID: convCtx.ConversationID, yield: yield}
		mwCtx := middleware.NewContext(ctx, convCtx.ConversationID, convCtx.UserID, text)
		turnErr := o.middleware.Execute(mwCtx, func(mc *middleware.Context) error {
			return o.runTurn(mc, sess, convCtx, text, em)
		})
		telemetry.End(span, turnErr)
		if turnErr == nil {
			return
		}
		// Once an agent was engaged, a chain failure (a recovered panic,
		// for instance) is that agent's failure and the caller is owed a
		// terminal event. Cancellations and pre-routing rejections stay
		// plain errors.
		if ctx.Err() != nil || mwCtx.AgentID == "" || em.terminal {
			em.fail(turnErr)
			return
		}
		em.emit(event.NewError(mwCtx.AgentID, turnErr.Error()))
	}
}

// runTurn is the turn body executed inside the middleware chain. In-band
// failures (routing miss, agent error) become terminal error events and
// return nil; only caller cancellation and middleware rejections surface
// as errors.
func (o *Orchestrator) runTurn(mc *middleware.Context, sess *session, convCtx *conversation.Context, text string, em *emitter) error {
	ctx := mc.Context()
	conversationID := convCtx.ConversationID

	shared := o.loadShared(ctx, conversationID)

	target, switchReason, ok := o.route(mc, sess, shared, text, em)
	if !ok {
		return nil
	}

	current, lastState := sess.outgoing()
	if current != target.ID() {
		if !o.handOff(ctx, sess, convCtx, current, lastState, target, switchReason, em) {
			return nil
		}
		// The agent can see its own hand-off entries.
		shared = o.loadShared(ctx, conversationID)
	}

	if !em.emit(event.NewAgentStart(target.ID(), target.Name())) {
		return nil
	}

	state := o.assembleState(ctx, convCtx, target.ID(), text, shared)

	for ev, execErr := range target.Execute(ctx, state) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if execErr != nil {
			em.emit(event.NewError(target.ID(), execErr.Error()))
			return nil
		}
		if ev == nil {
			continue
		}
		if ev.Type == event.TypeAgentComplete {
			sess.recordFinalState(ev.FinalState)
			if ev.FinalState != nil {
				if err := o.store.SaveAgentState(ctx, target.ID(), conversationID, ev.FinalState); err != nil {
					o.logger.Error("agent state save failed",
						"conversation_id", conversationID, "agent_id", target.ID(), "error", err)
				}
			}
		}
		if !em.emit(ev) {
			return nil
		}
	}

	// An agent stream that ran dry without a terminal marker still owes the
	// caller one.
	if !em.terminal && !em.stopped {
		em.emit(event.NewAgentComplete(target.ID(), nil))
	}
	return nil
}

// route picks the turn's agent: a pending SwitchAgent override wins,
// otherwise the classified intent is matched against the registry. A miss
// emits the turn's single router error event and reports ok=false.
func (o *Orchestrator) route(mc *middleware.Context, sess *session, shared *contextstore.SharedContext, text string, em *emitter) (agent.Agent, string, bool) {
	if req := sess.takePending(); req != nil {
		target := o.registry.Get(req.agentID)
		if target == nil {
			em.emit(event.NewError(RouterAgentID, fmt.Sprintf("agent %s is not registered", req.agentID)))
			return nil, "", false
		}
		mc.AgentID = target.ID()
		return target, req.reason, true
	}

	label := o.classifier.Classify(mc.Context(), text)
	mc.Intent = label
	target := o.registry.FindAgentForIntent(label, shared)
	if target == nil {
		em.emit(event.NewError(RouterAgentID, fmt.Sprintf("no agent can handle intent %q", label)))
		return nil, "", false
	}
	mc.AgentID = target.ID()
	return target, "intent: " + label, true
}

// handOff transfers the conversation to target: snapshot the outgoing
// agent, record both sides in the shared context history, emit
// agent_switch, and run the incoming agent's one-time Initialize. Reports
// false when the turn cannot continue.
func (o *Orchestrator) handOff(ctx context.Context, sess *session, convCtx *conversation.Context, current string, lastState map[string]any, target agent.Agent, reason string, em *emitter) bool {
	conversationID := convCtx.ConversationID
	from := current
	if from == "" {
		from = "none"
	}
	sess.setPhase(StateSwitching)

	if current != "" {
		if lastState != nil {
			if err := o.store.SaveAgentState(ctx, current, conversationID, lastState); err != nil {
				o.logger.Error("outgoing agent state snapshot failed",
					"conversation_id", conversationID, "agent_id", current, "error", err)
			}
		}
		o.appendHistory(ctx, conversationID, current, map[string]any{
			"action": "agent_switched_out",
			"to":     target.ID(),
		})
	}

	if !em.emit(event.NewAgentSwitch(from, target.ID(), reason)) {
		return false
	}

	if err := o.ensureInitialized(ctx, target, convCtx.UserID); err != nil {
		em.emit(event.NewError(target.ID(), fmt.Sprintf("initialize agent %s: %v", target.ID(), err)))
		// Control never transferred; restore the pre-switch phase.
		if current == "" {
			sess.setPhase(StateIdle)
		} else {
			sess.setPhase(StateAgentActive)
		}
		return false
	}

	o.appendHistory(ctx, conversationID, target.ID(), map[string]any{
		"action": "agent_switched_in",
		"from":   from,
	})
	sess.activate(target.ID())

	o.logger.Info("agent handoff",
		"conversation_id", conversationID, "from", from, "to", target.ID(), "reason", reason)
	return true
}

// assembleState builds the agent's turn input from the caller's context
// and the stores. Store reads degrade to empty values so a flaky backend
// slows a turn down rather than killing it.
func (o *Orchestrator) assembleState(ctx context.Context, convCtx *conversation.Context, agentID, text string, shared *contextstore.SharedContext) *agent.State {
	conversationID := convCtx.ConversationID

	priorState, err := o.store.AgentState(ctx, agentID, conversationID)
	if err != nil {
		o.logger.Warn("agent state read failed, starting empty",
			"conversation_id", conversationID, "agent_id", agentID, "error", err)
		priorState = make(map[string]any)
	}
	sharedData, err := o.store.SharedData(ctx, agentID)
	if err != nil {
		o.logger.Warn("shared data read failed",
			"conversation_id", conversationID, "agent_id", agentID, "error", err)
		sharedData = nil
	}

	history := convCtx.History
	if o.window != nil {
		history = o.window.Apply(history)
	}

	return &agent.State{
		ConversationID: conversationID,
		UserID:         convCtx.UserID,
		Message:        message.NewMessage(message.RoleUser, text),
		History:        history,
		Shared:         shared,
		AgentState:     priorState,
		SharedData:     sharedData,
		Metadata:       convCtx.Metadata,
	}
}

// loadShared reads the conversation's shared context, degrading to an
// empty one when the store is unavailable.
func (o *Orchestrator) loadShared(ctx context.Context, conversationID string) *contextstore.SharedContext {
	shared, err := o.store.SharedContext(ctx, conversationID)
	if err != nil {
		o.logger.Warn("shared context read failed, continuing with empty context",
			"conversation_id", conversationID, "error", err)
		return contextstore.NewSharedContext(conversationID)
	}
	return shared
}

// emitter stamps, persists, and forwards events for one turn, tracking
// whether the caller still consumes and whether a terminal event went out.
type emitter struct {
	o              *Orchestrator
	ctx            context.Context
	conversationID string
	yield          func(*event.Event, error) bool
	stopped        bool
	terminal       bool
}

// emit persists the event, then forwards it, in that order. It reports
// false once the caller stops consuming.
func (em *emitter) emit(ev *event.Event) bool {
	if em.stopped {
		return false
	}
	ev.ConversationID = em.conversationID
	em.o.persist(em.ctx, em.conversationID, ev)
	if ev.IsTerminal() {
		em.terminal = true
	}
	if !em.yield(ev, nil) {
		em.stopped = true
		return false
	}
	return true
}

// fail forwards a turn-level error that is not part of the event protocol.
func (em *emitter) fail(err error) {
	if em.stopped {
		return
	}
	em.stopped = true
	em.yield(nil, err)
}
