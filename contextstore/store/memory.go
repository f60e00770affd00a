package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stallwart/switchboard/contextstore"
	"github.com/stallwart/switchboard/pkg/logging"
)

// MemoryStore keeps all context state in process memory. Each keyspace has
// its own lock so the background sweep and concurrent conversations never
// contend across keyspaces.
type MemoryStore struct {
	expiration    time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger

	contextsMu sync.RWMutex
	contexts   map[string]*contextEntry

	statesMu sync.RWMutex
	states   map[stateKey]*stateEntry

	sharedMu sync.RWMutex
	shared   map[string]map[string]*stateEntry // toAgent -> fromAgent -> entry

	done      chan struct{}
	closeOnce sync.Once
}

var _ contextstore.Store = (*MemoryStore)(nil)

type contextEntry struct {
	value     *contextstore.SharedContext
	expiresAt time.Time
}

type stateKey struct {
	agentID        string
	conversationID string
}

type stateEntry struct {
	value     map[string]any
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithExpiration sets the TTL for shared contexts and agent state. Shared
// data between agents lives half as long.
func WithExpiration(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.expiration = d
		}
	}
}

// WithSweepInterval sets how often expired entries are purged.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(l *slog.Logger) MemoryOption {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewMemoryStore creates an in-memory context store and starts its sweep
// loop. Call Close to stop the loop.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		expiration:    contextstore.DefaultExpiration,
		sweepInterval: contextstore.DefaultSweepInterval,
		logger:        logging.WithComponent("contextstore"),
		contexts:      make(map[string]*contextEntry),
		states:        make(map[stateKey]*stateEntry),
		shared:        make(map[string]map[string]*stateEntry),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

// SharedContext returns the context for a conversation, creating an empty
// one if none exists or the previous one expired. Access slides the TTL.
func (s *MemoryStore) SharedContext(_ context.Context, conversationID string) (*contextstore.SharedContext, error) {
	s.contextsMu.Lock()
	defer s.contextsMu.Unlock()

	entry, ok := s.contexts[conversationID]
	if !ok || expired(entry.expiresAt) {
		entry = &contextEntry{value: contextstore.NewSharedContext(conversationID)}
		s.contexts[conversationID] = entry
	}
	entry.expiresAt = time.Now().Add(s.expiration)
	return entry.value.Clone(), nil
}

// UpdateSharedContext merges an update into the conversation's context,
// creating the context first if needed.
func (s *MemoryStore) UpdateSharedContext(_ context.Context, conversationID string, upd *contextstore.Update) error {
	s.contextsMu.Lock()
	defer s.contextsMu.Unlock()

	entry, ok := s.contexts[conversationID]
	if !ok || expired(entry.expiresAt) {
		entry = &contextEntry{value: contextstore.NewSharedContext(conversationID)}
		s.contexts[conversationID] = entry
	}
	entry.value.Merge(upd)
	entry.expiresAt = time.Now().Add(s.expiration)
	return nil
}

// AgentState returns the private state for an (agent, conversation) pair, or
// an empty map if absent or expired.
func (s *MemoryStore) AgentState(_ context.Context, agentID, conversationID string) (map[string]any, error) {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()

	entry, ok := s.states[stateKey{agentID, conversationID}]
	if !ok || expired(entry.expiresAt) {
		return map[string]any{}, nil
	}
	return contextstore.CloneState(entry.value), nil
}

// SaveAgentState overwrites the blob and resets its TTL.
func (s *MemoryStore) SaveAgentState(_ context.Context, agentID, conversationID string, state map[string]any) error {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	s.states[stateKey{agentID, conversationID}] = &stateEntry{
		value:     contextstore.CloneState(state),
		expiresAt: time.Now().Add(s.expiration),
	}
	return nil
}

// ShareData exposes a blob from one agent to another, overwriting any prior
// entry for the pair. The entry lives half as long as agent state.
func (s *MemoryStore) ShareData(_ context.Context, fromAgent, toAgent string, data map[string]any) error {
	s.sharedMu.Lock()
	defer s.sharedMu.Unlock()

	recipients, ok := s.shared[toAgent]
	if !ok {
		recipients = make(map[string]*stateEntry)
		s.shared[toAgent] = recipients
	}
	recipients[fromAgent] = &stateEntry{
		value:     contextstore.CloneState(data),
		expiresAt: time.Now().Add(s.expiration / 2),
	}
	return nil
}

// SharedData aggregates all non-expired data addressed to an agent, keyed by
// sender.
func (s *MemoryStore) SharedData(_ context.Context, toAgent string) (map[string]map[string]any, error) {
	s.sharedMu.RLock()
	defer s.sharedMu.RUnlock()

	out := make(map[string]map[string]any)
	for fromAgent, entry := range s.shared[toAgent] {
		if expired(entry.expiresAt) {
			continue
		}
		out[fromAgent] = contextstore.CloneState(entry.value)
	}
	return out, nil
}

// Close stops the sweep loop. The store remains readable afterwards.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.sweep()
			if removed > 0 {
				s.logger.Debug("swept expired context entries", "removed", removed)
			}
		case <-s.done:
			return
		}
	}
}

// sweep purges expired entries one at a time so no lock is held longer than
// a single removal.
func (s *MemoryStore) sweep() int {
	removed := 0

	s.contextsMu.RLock()
	contextIDs := make([]string, 0, len(s.contexts))
	for id, entry := range s.contexts {
		if expired(entry.expiresAt) {
			contextIDs = append(contextIDs, id)
		}
	}
	s.contextsMu.RUnlock()
	for _, id := range contextIDs {
		s.contextsMu.Lock()
		if entry, ok := s.contexts[id]; ok && expired(entry.expiresAt) {
			delete(s.contexts, id)
			removed++
		}
		s.contextsMu.Unlock()
	}

	s.statesMu.RLock()
	staleStates := make([]stateKey, 0)
	for key, entry := range s.states {
		if expired(entry.expiresAt) {
			staleStates = append(staleStates, key)
		}
	}
	s.statesMu.RUnlock()
	for _, key := range staleStates {
		s.statesMu.Lock()
		if entry, ok := s.states[key]; ok && expired(entry.expiresAt) {
			delete(s.states, key)
			removed++
		}
		s.statesMu.Unlock()
	}

	s.sharedMu.RLock()
	type sharedKey struct{ to, from string }
	staleShared := make([]sharedKey, 0)
	for to, senders := range s.shared {
		for from, entry := range senders {
			if expired(entry.expiresAt) {
				staleShared = append(staleShared, sharedKey{to, from})
			}
		}
	}
	s.sharedMu.RUnlock()
	for _, key := range staleShared {
		s.sharedMu.Lock()
		if senders, ok := s.shared[key.to]; ok {
			if entry, ok := senders[key.from]; ok && expired(entry.expiresAt) {
				delete(senders, key.from)
				removed++
			}
			if len(senders) == 0 {
				delete(s.shared, key.to)
			}
		}
		s.sharedMu.Unlock()
	}

	return removed
}

func expired(at time.Time) bool {
	return !at.IsZero() && time.Now().After(at)
}
