package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stallwart/switchboard/config"
	"github.com/stallwart/switchboard/errors"
	"github.com/stallwart/switchboard/event"
	"github.com/stallwart/switchboard/eventlog"
)

// RedisStore implements eventlog.Store on Redis. Each conversation keeps
// its events in one list, so order falls out of RPUSH; an index set tracks
// which conversations exist.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis configuration for the event log.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL bounds how long a conversation's list lives after its last
	// append. Zero keeps events until Clear.
	TTL time.Duration
}

// DefaultRedisConfig returns the configuration used when none is supplied.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "switchboard:events:",
	}
}

// NewRedisStore creates a Redis-backed event log.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "switchboard:events:"
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
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}, nil
}

func (s *RedisStore) listKey(conversationID string) string {
	return fmt.Sprintf("%sconv:%s", s.prefix, conversationID)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "conversations"
}

// AppendEvent pushes the event onto the conversation's list.
func (s *RedisStore) AppendEvent(ctx context.Context, conversationID string, e *event.Event) error {
	if e == nil {
		return fmt.Errorf("event cannot be nil: %w", errors.ErrInvalidInput)
	}
	if conversationID == "" {
		return fmt.Errorf("conversation id is required: %w", errors.ErrInvalidInput)
	}

	record := &eventlog.Record{
		ConversationID: conversationID,
		Event:          e,
		StoredAt:       time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal event record: %w", err)
	}

	key := s.listKey(conversationID)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to append event to redis: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("failed to refresh event list ttl: %w", err)
		}
	}
	if err := s.client.SAdd(ctx, s.indexKey(), conversationID).Err(); err != nil {
		return fmt.Errorf("failed to index conversation: %w", err)
	}
	return nil
}

// Events returns the conversation's records in append order.
func (s *RedisStore) Events(ctx context.Context, conversationID string) ([]*eventlog.Record, error) {
	items, err := s.client.LRange(ctx, s.listKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events from redis: %w", err)
	}

	records := make([]*eventlog.Record, 0, len(items))
	for _, item := range items {
		var record eventlog.Record
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event record: %w", err)
		}
		records = append(records, &record)
	}
	return records, nil
}

// Count returns how many events the conversation has.
func (s *RedisStore) Count(ctx context.Context, conversationID string) (int, error) {
	n, err := s.client.LLen(ctx, s.listKey(conversationID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return int(n), nil
}

// Clear drops the conversation's events and removes it from the index.
func (s *RedisStore) Clear(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, s.listKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete event list: %w", err)
	}
	if err := s.client.SRem(ctx, s.indexKey(), conversationID).Err(); err != nil {
		return fmt.Errorf("failed to unindex conversation: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
