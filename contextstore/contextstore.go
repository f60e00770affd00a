package contextstore

import (
	"context"
	"time"
)

const (
	// DefaultExpiration is the TTL applied to shared contexts and agent
	// state entries. Shared data between agents lives half as long.
	DefaultExpiration = time.Hour

	// DefaultSweepInterval is how often expired entries are purged.
	DefaultSweepInterval = 5 * time.Minute
)

// HistoryEntry records one agent's involvement in a conversation.
type HistoryEntry struct {
	AgentID   string         `json:"agent_id"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// SharedContext is the conversation-scoped state visible to every agent that
// has touched the conversation. SessionData holds named slots such as
// "currentProducts"; AgentHistory is an append-only log.
type SharedContext struct {
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id,omitempty"`
	SessionData    map[string]any `json:"session_data"`
	AgentHistory   []HistoryEntry `json:"agent_history"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewSharedContext creates an empty shared context for a conversation.
func NewSharedContext(conversationID string) *SharedContext {
	now := time.Now()
	return &SharedContext{
		ConversationID: conversationID,
		SessionData:    make(map[string]any),
		AgentHistory:   make([]HistoryEntry, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone creates a deep copy of the shared context.
func (c *SharedContext) Clone() *SharedContext {
	if c == nil {
		return nil
	}
	cloned := *c
	cloned.SessionData = make(map[string]any, len(c.SessionData))
	for k, v := range c.SessionData {
		cloned.SessionData[k] = v
	}
	cloned.AgentHistory = make([]HistoryEntry, len(c.AgentHistory))
	copy(cloned.AgentHistory, c.AgentHistory)
	return &cloned
}

// Update describes a partial change to a shared context.
type Update struct {
	UserID       string
	SessionData  map[string]any
	AgentHistory []HistoryEntry
}

// Merge applies an update: SessionData slots replace existing slots
// (last writer wins), AgentHistory entries append and never truncate.
func (c *SharedContext) Merge(upd *Update) {
	if upd == nil {
		return
	}
	if upd.UserID != "" {
		c.UserID = upd.UserID
	}
	if c.SessionData == nil {
		c.SessionData = make(map[string]any, len(upd.SessionData))
	}
	for k, v := range upd.SessionData {
		c.SessionData[k] = v
	}
	c.AgentHistory = append(c.AgentHistory, upd.AgentHistory...)
	c.UpdatedAt = time.Now()
}

// Store keeps shared conversation state, per-agent private state, and
// cross-agent handoff data, all with expiration.
//
// Reads and writes to a given key are linearizable with respect to each
// other; different keys do not contend.
type Store interface {
	// SharedContext returns the context for a conversation, creating an
	// empty one if none exists.
	SharedContext(ctx context.Context, conversationID string) (*SharedContext, error)

	// UpdateSharedContext merges an update into the conversation's context,
	// creating the context first if needed.
	UpdateSharedContext(ctx context.Context, conversationID string, upd *Update) error

	// AgentState returns the private state blob for an (agent, conversation)
	// pair, or an empty map if absent or expired.
	AgentState(ctx context.Context, agentID, conversationID string) (map[string]any, error)

	// SaveAgentState overwrites the blob and resets its TTL.
	SaveAgentState(ctx context.Context, agentID, conversationID string, state map[string]any) error

	// ShareData exposes a blob from one agent to another. Repeated calls for
	// the same pair overwrite. The entry lives half as long as agent state.
	ShareData(ctx context.Context, fromAgent, toAgent string, data map[string]any) error

	// SharedData aggregates all non-expired data addressed to an agent,
	// keyed by sender.
	SharedData(ctx context.Context, toAgent string) (map[string]map[string]any, error)

	// Close releases resources and stops any background maintenance.
	Close() error
}

// CloneState deep-copies a state blob one level down, which is enough to keep
// callers from aliasing the stored top-level map.
func CloneState(state map[string]any) map[string]any {
	cloned := make(map[string]any, len(state))
	for k, v := range state {
		cloned[k] = v
	}
	return cloned
}
