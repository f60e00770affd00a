// Package registry keeps the in-memory directory of agents and answers
// which agent should handle an intent.
package registry

import (
	"fmt"
	"sync"

	"github.com/stallwart/switchboard/agent"
	"github.com/stallwart/switchboard/contextstore"
	"github.com/stallwart/switchboard/errors"
)

// Summary is the read-only projection of an agent's identity.
type Summary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Intents     []string `json:"intents"`
	Tools       []string `json:"tools"`
}

// Registry holds registered agents in registration order. Registration is
// a startup-time concern; lookups are safe under concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents []agent.Agent
	byID   map[string]agent.Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]agent.Agent),
	}
}

// Register adds an agent. It fails if the agent is nil, has no id, or an
// agent with the same id is already present.
func (r *Registry) Register(a agent.Agent) error {
	if a == nil {
		return fmt.Errorf("agent is nil: %w", errors.ErrInvalidAgent)
	}
	id := a.ID()
	if id == "" {
		return fmt.Errorf("agent id is empty: %w", errors.ErrInvalidAgent)
	}
	if a.Name() == "" {
		return fmt.Errorf("agent %s: name is empty: %w", id, errors.ErrInvalidAgent)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("agent %s: %w", id, errors.ErrDuplicateAgent)
	}
	r.byID[id] = a
	r.agents = append(r.agents, a)
	return nil
}

// Unregister removes the agent with the given id and reports whether
// anything was removed.
func (r *Registry) Unregister(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[agentID]; !exists {
		return false
	}
	delete(r.byID, agentID)
	for i, a := range r.agents {
		if a.ID() == agentID {
			r.agents = append(r.agents[:i], r.agents[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the agent with the given id, or nil.
func (r *Registry) Get(agentID string) agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[agentID]
}

// FindAgentForIntent returns the first registered agent whose CanHandle
// accepts the intent, or nil when none does. Evaluation follows
// registration order, so the first registered match wins ties.
func (r *Registry) FindAgentForIntent(intent string, shared *contextstore.SharedContext) agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.agents {
		if a.CanHandle(intent, shared) {
			return a
		}
	}
	return nil
}

// List returns all registered agents in registration order.
func (r *Registry) List() []agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]agent.Agent(nil), r.agents...)
}

// AgentsForIntents returns the agents able to handle at least one of
// the given intents, in registration order, without duplicates.
func (r *Registry) AgentsForIntents(intents []string) []agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []agent.Agent
	for _, a := range r.agents {
		for _, intent := range intents {
			if a.CanHandle(intent, nil) {
				matched = append(matched, a)
				break
			}
		}
	}
	return matched
}

// Summaries returns the identity projection of every registered agent in
// registration order.
func (r *Registry) Summaries() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]Summary, 0, len(r.agents))
	for _, a := range r.agents {
		summaries = append(summaries, Summary{
			ID:          a.ID(),
			Name:        a.Name(),
			Description: a.Description(),
			Intents:     a.Intents(),
			Tools:       a.Tools(),
		})
	}
	return summaries
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
