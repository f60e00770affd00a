package agent

import (
	"context"
	"iter"
	"strings"

	"github.com/stallwart/switchboard/contextstore"
	"github.com/stallwart/switchboard/event"
	"github.com/stallwart/switchboard/message"
)

// Agent is a self-contained capability unit. It claims intents through
// CanHandle and produces the event stream for one conversational turn
// through Execute. Identity fields are immutable after registration.
type Agent interface {
	ID() string
	Name() string
	Description() string

	// Intents returns the agent's declared intent keywords, in priority order.
	Intents() []string

	// Tools returns the names of the tools the agent declares it may call.
	Tools() []string

	// CanHandle reports whether the agent claims the given intent.
	// Implementations may consult the shared conversation context.
	CanHandle(intent string, shared *contextstore.SharedContext) bool

	// Initialize is called once per user before the agent first executes
	// on that user's behalf.
	Initialize(ctx context.Context, userID string) error

	// Execute runs one turn over the assembled state, yielding events in
	// order until the turn's terminal event.
	Execute(ctx context.Context, state *State) iter.Seq2[*event.Event, error]
}

// State is the assembled input for one agent turn: the caller's message
// and history, the conversation-wide shared context, the agent's own
// prior private state, and any data other agents have shared with it.
type State struct {
	ConversationID string
	UserID         string
	Message        *message.Message
	History        []*message.Message
	Shared         *contextstore.SharedContext
	AgentState     map[string]any
	SharedData     map[string]map[string]any
	Metadata       map[string]any
}

// Transcript returns the prior history followed by the current message,
// deep-copied so the agent can extend it freely.
func (s *State) Transcript() []*message.Message {
	msgs := make([]*message.Message, 0, len(s.History)+1)
	msgs = append(msgs, message.CloneMessages(s.History)...)
	if s.Message != nil {
		msgs = append(msgs, message.Clone(s.Message))
	}
	return msgs
}

// MatchIntent reports whether the intent matches any of the keywords by
// case-insensitive substring containment in either direction.
func MatchIntent(intent string, keywords []string) bool {
	candidate := strings.ToLower(strings.TrimSpace(intent))
	if candidate == "" {
		return false
	}
	for _, keyword := range keywords {
		kw := strings.ToLower(strings.TrimSpace(keyword))
		if kw == "" {
			continue
		}
		if strings.Contains(candidate, kw) || strings.Contains(kw, candidate) {
			return true
		}
	}
	return false
}

// Base carries the immutable identity shared by agent implementations and
// supplies the default intent matching and a no-op Initialize. Embed it
// and override what the concrete agent needs.
type Base struct {
	id          string
	name        string
	description string
	intents     []string
	tools       []string
}

// NewBase builds the identity portion of an agent from its spec.
func NewBase(spec Spec) Base {
	return Base{
		id:          spec.ID,
		name:        spec.Name,
		description: spec.Description,
		intents:     append([]string(nil), spec.Intents...),
		tools:       append([]string(nil), spec.Tools...),
	}
}

func (b *Base) ID() string          { return b.id }
func (b *Base) Name() string        { return b.name }
func (b *Base) Description() string { return b.description }

func (b *Base) Intents() []string {
	return append([]string(nil), b.intents...)
}

func (b *Base) Tools() []string {
	return append([]string(nil), b.tools...)
}

// CanHandle applies the default keyword matching.
func (b *Base) CanHandle(intent string, _ *contextstore.SharedContext) bool {
	return MatchIntent(intent, b.intents)
}

// Initialize is a no-op by default.
func (b *Base) Initialize(context.Context, string) error { return nil }
