package event

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Type identifies one of the streaming event variants.
type Type string

const (
	TypeAgentStart      Type = "agent_start"
	TypeAgentSwitch     Type = "agent_switch"
	TypeContentChunk    Type = "content_chunk"
	TypeToolExecution   Type = "tool_execution"
	TypeToolResult      Type = "tool_result"
	TypeAgentComplete   Type = "agent_complete"
	TypeError           Type = "error"
	TypeConversationEnd Type = "conversation_end"
)

// Event is one item of the streaming protocol toward callers. Events are
// immutable after emission, ordered within a conversation, and never
// retried or replayed by the core.
type Event struct {
	ID             string         `json:"id"`
	Type           Type           `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	AgentName      string         `json:"agent_name,omitempty"`
	FromAgent      string         `json:"from_agent,omitempty"`
	ToAgent        string         `json:"to_agent,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Content        string         `json:"content,omitempty"`
	ToolName       string         `json:"tool_name,omitempty"`
	Result         string         `json:"result,omitempty"`
	Status         string         `json:"status,omitempty"`
	FinalState     map[string]any `json:"final_state,omitempty"`
	Error          string         `json:"error,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

func newEvent(typ Type) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
}

// NewAgentStart signals that an agent begins handling the turn.
func NewAgentStart(agentID, agentName string) *Event {
	e := newEvent(TypeAgentStart)
	e.AgentID = agentID
	e.AgentName = agentName
	return e
}

// NewAgentSwitch signals that control passed between agents. fromAgent is
// "none" when no agent was active before.
func NewAgentSwitch(fromAgent, toAgent, reason string) *Event {
	e := newEvent(TypeAgentSwitch)
	e.FromAgent = fromAgent
	e.ToAgent = toAgent
	e.Reason = reason
	return e
}

// NewContentChunk carries an incremental piece of natural-language output.
func NewContentChunk(agentID, content string) *Event {
	e := newEvent(TypeContentChunk)
	e.AgentID = agentID
	e.Content = content
	return e
}

// NewToolExecution signals that a tool call has been dispatched.
func NewToolExecution(agentID, toolName string) *Event {
	e := newEvent(TypeToolExecution)
	e.AgentID = agentID
	e.ToolName = toolName
	return e
}

// NewToolResult carries the outcome of a tool call. status is "success" or
// "error".
func NewToolResult(agentID, toolName, result, status string) *Event {
	e := newEvent(TypeToolResult)
	e.AgentID = agentID
	e.ToolName = toolName
	e.Result = result
	e.Status = status
	return e
}

// NewAgentComplete signals that the active agent finished its turn.
func NewAgentComplete(agentID string, finalState map[string]any) *Event {
	e := newEvent(TypeAgentComplete)
	e.AgentID = agentID
	e.FinalState = finalState
	return e
}

// NewError reports a recoverable or terminal failure for the turn.
func NewError(agentID, errMsg string) *Event {
	e := newEvent(TypeError)
	e.AgentID = agentID
	e.Error = errMsg
	return e
}

// NewConversationEnd signals that the conversation session was explicitly
// closed.
func NewConversationEnd() *Event {
	return newEvent(TypeConversationEnd)
}

// IsTerminal reports whether the event ends a turn. Every turn finishes with
// exactly one terminal event.
func (e *Event) IsTerminal() bool {
	switch e.Type {
	case TypeAgentComplete, TypeError, TypeConversationEnd:
		return true
	default:
		return false
	}
}

// Encode writes the event as a single SSE frame: a "data:" line holding the
// JSON encoding, followed by a blank line.
func Encode(w io.Writer, e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("event: marshal %s: %w", e.Type, err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("event: write frame: %w", err)
	}
	return nil
}
