// Package eventlog is the durable store collaborator for conversation
// events. The orchestrator appends every event here before forwarding it
// to the caller.
package eventlog

import (
	"context"
	"time"

	"github.com/stallwart/switchboard/event"
)

// Record is one persisted event together with its storage envelope.
type Record struct {
	ConversationID string       `json:"conversation_id"`
	Event          *event.Event `json:"event"`
	StoredAt       time.Time    `json:"stored_at"`
}

// Store persists events per conversation. Appends within one conversation
// happen serially; Events returns them in append order.
type Store interface {
	AppendEvent(ctx context.Context, conversationID string, e *event.Event) error
	Events(ctx context.Context, conversationID string) ([]*Record, error)
	Count(ctx context.Context, conversationID string) (int, error)
	Clear(ctx context.Context, conversationID string) error
	Close() error
}
