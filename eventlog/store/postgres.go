package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/stallwart/switchboard/config"
	"github.com/stallwart/switchboard/errors"
	"github.com/stallwart/switchboard/event"
	"github.com/stallwart/switchboard/eventlog"
)

// PostgresStore implements eventlog.Store on PostgreSQL. A BIGSERIAL
// sequence column gives a total append order per conversation.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultPostgresConfig returns default PostgreSQL configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "switchboard",
		SSLMode:  "disable",
	}
}

// NewPostgresStore connects to PostgreSQL and prepares the events table.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	if err := config.ValidatePostgresConfig(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.createTable(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS conversation_events (
		seq BIGSERIAL PRIMARY KEY,
		id VARCHAR(255) NOT NULL UNIQUE,
		conversation_id VARCHAR(255) NOT NULL,
		type VARCHAR(64) NOT NULL,
		payload JSONB NOT NULL,
		stored_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_events_conversation ON conversation_events(conversation_id);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// AppendEvent inserts the event; re-appending the same event id is a
// no-op.
func (s *PostgresStore) AppendEvent(ctx context.Context, conversationID string, e *event.Event) error {
	if e == nil {
		return fmt.Errorf("event cannot be nil: %w", errors.ErrInvalidInput)
	}
	if conversationID == "" {
		return fmt.Errorf("conversation id is required: %w", errors.ErrInvalidInput)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	query := `
	INSERT INTO conversation_events (id, conversation_id, type, payload, stored_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query,
		e.ID, conversationID, string(e.Type), string(payload), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to append event to PostgreSQL: %w", err)
	}
	return nil
}

// Events returns the conversation's records in append order.
func (s *PostgresStore) Events(ctx context.Context, conversationID string) ([]*eventlog.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, payload, stored_at
		 FROM conversation_events
		 WHERE conversation_id = $1
		 ORDER BY seq`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	records := make([]*eventlog.Record, 0)
	for rows.Next() {
		record := &eventlog.Record{}
		var payload string
		if err := rows.Scan(&record.ConversationID, &payload, &record.StoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		var e event.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
		record.Event = &e
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return records, nil
}

// Count returns how many events the conversation has.
func (s *PostgresStore) Count(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversation_events WHERE conversation_id = $1",
		conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// Clear removes all events of the conversation.
func (s *PostgresStore) Clear(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM conversation_events WHERE conversation_id = $1", conversationID)
	if err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks if the PostgreSQL connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
