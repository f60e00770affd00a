package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stallwart/switchboard/config"
	"github.com/stallwart/switchboard/contextstore"
)

// RedisStore keeps context state in Redis so multiple orchestrator processes
// can share one conversation space. Expiry is delegated to native TTLs, with
// per-recipient index sets for shared-data aggregation.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	expiration time.Duration
}

var _ contextstore.Store = (*RedisStore)(nil)

// RedisConfig holds Redis configuration for the context store.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	Expiration time.Duration
}

// DefaultRedisConfig returns the configuration used when none is supplied.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:       "localhost:6379",
		Prefix:     "switchboard:context:",
		Expiration: contextstore.DefaultExpiration,
	}
}

// NewRedisStore creates a Redis-backed context store.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "switchboard:context:"
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = contextstore.DefaultExpiration
	}
	if err := config.ValidateRedisConfig(cfg.Addr, cfg.DB, cfg.Prefix); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client:     client,
		prefix:     cfg.Prefix,
		expiration: cfg.Expiration,
	}, nil
}

// SharedContext returns the context for a conversation, creating an empty
// one if none exists.
func (s *RedisStore) SharedContext(ctx context.Context, conversationID string) (*contextstore.SharedContext, error) {
	key := s.contextKey(conversationID)

	raw, err := s.client.Get(ctx, key).Result()
	if err == nil {
		var sc contextstore.SharedContext
		if err := json.Unmarshal([]byte(raw), &sc); err != nil {
			return nil, fmt.Errorf("failed to decode shared context: %w", err)
		}
		// Slide the TTL; an active conversation should not expire.
		s.client.Expire(ctx, key, s.expiration)
		return &sc, nil
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("failed to load shared context: %w", err)
	}

	sc := contextstore.NewSharedContext(conversationID)
	if err := s.setContext(ctx, key, sc); err != nil {
		return nil, err
	}
	return sc.Clone(), nil
}

// UpdateSharedContext merges an update into the conversation's context,
// creating the context first if needed.
func (s *RedisStore) UpdateSharedContext(ctx context.Context, conversationID string, upd *contextstore.Update) error {
	key := s.contextKey(conversationID)

	sc := contextstore.NewSharedContext(conversationID)
	raw, err := s.client.Get(ctx, key).Result()
	if err == nil {
		if err := json.Unmarshal([]byte(raw), sc); err != nil {
			return fmt.Errorf("failed to decode shared context: %w", err)
		}
	} else if err != redis.Nil {
		return fmt.Errorf("failed to load shared context: %w", err)
	}

	sc.Merge(upd)
	return s.setContext(ctx, key, sc)
}

// AgentState returns the private state for an (agent, conversation) pair, or
// an empty map if absent or expired.
func (s *RedisStore) AgentState(ctx context.Context, agentID, conversationID string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, s.stateKey(agentID, conversationID)).Result()
	if err == redis.Nil {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent state: %w", err)
	}

	state := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to decode agent state: %w", err)
	}
	return state, nil
}

// SaveAgentState overwrites the blob and resets its TTL.
func (s *RedisStore) SaveAgentState(ctx context.Context, agentID, conversationID string, state map[string]any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal agent state: %w", err)
	}
	if err := s.client.Set(ctx, s.stateKey(agentID, conversationID), raw, s.expiration).Err(); err != nil {
		return fmt.Errorf("failed to save agent state: %w", err)
	}
	return nil
}

// ShareData exposes a blob from one agent to another, overwriting any prior
// entry for the pair.
func (s *RedisStore) ShareData(ctx context.Context, fromAgent, toAgent string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal shared data: %w", err)
	}

	if err := s.client.Set(ctx, s.sharedKey(toAgent, fromAgent), raw, s.expiration/2).Err(); err != nil {
		return fmt.Errorf("failed to save shared data: %w", err)
	}
	if err := s.client.SAdd(ctx, s.sharedIndexKey(toAgent), fromAgent).Err(); err != nil {
		return fmt.Errorf("failed to index shared data: %w", err)
	}
	return nil
}

// SharedData aggregates all non-expired data addressed to an agent, keyed by
// sender. Senders whose entries expired are dropped from the index.
func (s *RedisStore) SharedData(ctx context.Context, toAgent string) (map[string]map[string]any, error) {
	indexKey := s.sharedIndexKey(toAgent)
	senders, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list shared data senders: %w", err)
	}

	out := make(map[string]map[string]any)
	for _, fromAgent := range senders {
		raw, err := s.client.Get(ctx, s.sharedKey(toAgent, fromAgent)).Result()
		if err == redis.Nil {
			s.client.SRem(ctx, indexKey, fromAgent)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load shared data from %s: %w", fromAgent, err)
		}

		data := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("failed to decode shared data from %s: %w", fromAgent, err)
		}
		out[fromAgent] = data
	}
	return out, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) setContext(ctx context.Context, key string, sc *contextstore.SharedContext) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to marshal shared context: %w", err)
	}
	if err := s.client.Set(ctx, key, raw, s.expiration).Err(); err != nil {
		return fmt.Errorf("failed to save shared context: %w", err)
	}
	return nil
}

func (s *RedisStore) contextKey(conversationID string) string {
	return s.prefix + "conv:" + conversationID
}

func (s *RedisStore) stateKey(agentID, conversationID string) string {
	return s.prefix + "state:" + agentID + ":" + conversationID
}

func (s *RedisStore) sharedKey(toAgent, fromAgent string) string {
	return s.prefix + "shared:" + toAgent + ":" + fromAgent
}

func (s *RedisStore) sharedIndexKey(toAgent string) string {
	return s.prefix + "shared-index:" + toAgent
}
