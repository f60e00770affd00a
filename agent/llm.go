package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/stallwart/switchboard/errors"
	"github.com/stallwart/switchboard/event"
	"github.com/stallwart/switchboard/message"
	"github.com/stallwart/switchboard/pkg/logging"
	"github.com/stallwart/switchboard/prompt"
	"github.com/stallwart/switchboard/tool"
)

const (
	defaultMaxIterations = 8

	// systemPromptName is the template the system prompt is rendered from.
	systemPromptName = "system"
)

// LLMAgent drives an inference provider through a tool-calling loop and
// emits the turn's events. It holds no per-conversation state; everything
// a turn needs arrives in State, so one instance serves many
// conversations concurrently.
type LLMAgent struct {
	Base
	spec     Spec
	llm      LLMClient
	executor *tool.Executor
	prompts  *prompt.Manager
	logger   *slog.Logger
}

// LLMOption configures an LLMAgent.
type LLMOption func(*LLMAgent)

// WithExecutor sets the tool executor the agent dispatches tool calls to.
func WithExecutor(executor *tool.Executor) LLMOption {
	return func(a *LLMAgent) {
		if executor != nil {
			a.executor = executor
		}
	}
}

// WithPromptManager supplies a prompt manager. Register a "system"
// template on it to customize how the system prompt is rendered.
func WithPromptManager(m *prompt.Manager) LLMOption {
	return func(a *LLMAgent) {
		if m != nil {
			a.prompts = m
		}
	}
}

// WithLogger overrides the agent's logger.
func WithLogger(logger *slog.Logger) LLMOption {
	return func(a *LLMAgent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewLLMAgent builds an agent from its spec and inference client.
func NewLLMAgent(spec Spec, llm LLMClient, opts ...LLMOption) (*LLMAgent, error) {
	if spec.MaxIterations <= 0 {
		spec.MaxIterations = defaultMaxIterations
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if llm == nil {
		return nil, fmt.Errorf("agent %s: llm client is required: %w", spec.ID, errors.ErrInvalidAgent)
	}

	a := &LLMAgent{
		Base:   NewBase(spec),
		spec:   spec,
		llm:    llm,
		logger: logging.WithComponent("agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.executor == nil {
		a.executor = tool.NewExecutor()
	}
	if a.prompts == nil {
		a.prompts = prompt.NewManager()
	}
	if _, err := a.prompts.Get(systemPromptName); err != nil {
		if err := a.prompts.RegisterString(systemPromptName, spec.SystemPrompt); err != nil {
			a.logger.Warn("system prompt is not a valid template, using it verbatim",
				"agent_id", spec.ID, "error", err)
		}
	}

	if spec.Model != "" {
		llm.SetModel(spec.Model)
	}
	if spec.Temperature > 0 {
		llm.SetTemperature(spec.Temperature)
	}
	if spec.MaxTokens > 0 {
		llm.SetMaxTokens(spec.MaxTokens)
	}

	return a, nil
}

// Execute runs the tool-calling loop for one turn. Content arrives as
// content_chunk events, tool calls as tool_execution/tool_result pairs,
// and the turn closes with agent_complete carrying the agent's final
// private state. Failures are yielded as errors for the caller to turn
// into a terminal error event.
func (a *LLMAgent) Execute(ctx context.Context, state *State) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		if state == nil || state.Message == nil {
			yield(nil, fmt.Errorf("turn state is missing a message: %w", errors.ErrInvalidInput))
			return
		}

		transcript := make([]*message.Message, 0, len(state.History)+2)
		transcript = append(transcript, message.NewMessage(message.RoleSystem, a.systemPrompt(state)))
		transcript = append(transcript, state.Transcript()...)

		schemas := a.executor.Schemas(ctx, state.UserID)

		var usedTools []string
		for round := 0; round < a.spec.MaxIterations; round++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			reply, ok := a.generate(ctx, transcript, schemas, yield)
			if !ok {
				return
			}
			transcript = append(transcript, reply)

			if !reply.HasToolCalls() {
				yield(event.NewAgentComplete(a.ID(), a.finalState(state, usedTools, reply)), nil)
				return
			}

			for _, call := range reply.ToolCalls {
				notice := a.executor.DescribePending([]message.ToolCall{call})[0]
				if !yield(event.NewContentChunk(a.ID(), notice), nil) {
					return
				}
				if !yield(event.NewToolExecution(a.ID(), call.Name), nil) {
					return
				}

				result := a.executor.Execute(ctx, state.UserID, []message.ToolCall{call})[0]
				if !yield(event.NewToolResult(a.ID(), result.Name, result.Content, string(result.Status)), nil) {
					return
				}

				transcript = append(transcript, message.NewToolResponseMessage(result.CallID, result.Content))
				usedTools = append(usedTools, result.Name)
			}
		}

		yield(nil, fmt.Errorf("agent %s exceeded %d tool rounds", a.ID(), a.spec.MaxIterations))
	}
}

// generate runs one model round, yielding content chunks as they arrive.
// The second return is false when iteration must stop, either because the
// consumer quit or because a failure was already yielded.
func (a *LLMAgent) generate(ctx context.Context, transcript []*message.Message, schemas []map[string]any, yield func(*event.Event, error) bool) (*message.Message, bool) {
	streamer, ok := a.llm.(StreamLLMClient)
	if !ok {
		reply, err := a.llm.Generate(ctx, transcript, schemas)
		if err != nil {
			yield(nil, fmt.Errorf("llm generation: %w", err))
			return nil, false
		}
		if reply == nil {
			yield(nil, fmt.Errorf("llm returned no message"))
			return nil, false
		}
		if reply.Content != "" {
			if !yield(event.NewContentChunk(a.ID(), reply.Content), nil) {
				return nil, false
			}
		}
		return reply, true
	}

	var final *message.Message
	for step, err := range streamer.GenerateStream(ctx, &GenerateRequest{Messages: transcript, Tools: schemas}) {
		if err != nil {
			yield(nil, fmt.Errorf("llm stream: %w", err))
			return nil, false
		}
		if step == nil {
			continue
		}
		if step.Final() {
			final = step.Message
			break
		}
		if step.Delta != "" {
			if !yield(event.NewContentChunk(a.ID(), step.Delta), nil) {
				return nil, false
			}
		}
	}
	if final == nil {
		yield(nil, fmt.Errorf("llm stream ended without a final message"))
		return nil, false
	}
	return final, true
}

// systemPrompt renders the system template with the turn's context. A
// render failure falls back to the raw configured prompt.
func (a *LLMAgent) systemPrompt(state *State) string {
	vars := map[string]interface{}{
		"AgentName":   a.Name(),
		"Description": a.Description(),
		"UserID":      state.UserID,
	}
	if state.Shared != nil {
		vars["SessionData"] = state.Shared.SessionData
	}
	if len(state.AgentState) > 0 {
		vars["AgentState"] = state.AgentState
	}
	if len(state.SharedData) > 0 {
		vars["SharedData"] = state.SharedData
	}

	rendered, err := a.prompts.Render(systemPromptName, vars)
	if err != nil {
		return a.spec.SystemPrompt
	}
	return rendered
}

// finalState summarizes the turn for the agent_complete event. It is also
// what the orchestrator persists as this agent's private state.
func (a *LLMAgent) finalState(state *State, usedTools []string, reply *message.Message) map[string]any {
	turns := 1
	switch prev := state.AgentState["turns"].(type) {
	case int:
		turns = prev + 1
	case float64:
		turns = int(prev) + 1
	}

	final := map[string]any{
		"turns":           turns,
		"last_message_id": reply.ID,
	}
	if len(usedTools) > 0 {
		final["tools_used"] = usedTools
	}
	return final
}
