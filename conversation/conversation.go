// Package conversation holds the caller-supplied turn context and the
// history windowing applied before a turn reaches an agent.
package conversation

import (
	"fmt"

	"github.com/stallwart/switchboard/errors"
	"github.com/stallwart/switchboard/message"
)

// Context is what the caller hands over with each turn. The core reads it
// and never mutates it; history ownership stays with the caller.
type Context struct {
	ConversationID string
	UserID         string
	History        []*message.Message
	Metadata       map[string]any
}

// Validate checks the fields a turn cannot run without.
func (c *Context) Validate() error {
	if c == nil {
		return fmt.Errorf("conversation context is nil: %w", errors.ErrInvalidInput)
	}
	if c.ConversationID == "" {
		return fmt.Errorf("conversation id is required: %w", errors.ErrInvalidInput)
	}
	if c.UserID == "" {
		return fmt.Errorf("user id is required: %w", errors.ErrInvalidInput)
	}
	return nil
}

// History accumulates messages across turns for callers that keep their
// transcript in process. A window, when set, trims after every append.
type History struct {
	messages []*message.Message
	window   *Window
}

// NewHistory creates an empty history trimmed by the given window. A nil
// window keeps everything.
func NewHistory(window *Window) *History {
	return &History{window: window}
}

// Add appends a message and re-applies the window.
func (h *History) Add(msg *message.Message) {
	if msg == nil {
		return
	}
	h.messages = append(h.messages, msg)
	if h.window != nil {
		h.messages = h.window.Apply(h.messages)
	}
}

// Messages returns the current window of messages.
func (h *History) Messages() []*message.Message {
	return append([]*message.Message(nil), h.messages...)
}

// Last returns the most recent message, or nil when empty.
func (h *History) Last() *message.Message {
	if len(h.messages) == 0 {
		return nil
	}
	return h.messages[len(h.messages)-1]
}

// ByRole returns all messages with the given role, oldest first.
func (h *History) ByRole(role message.Role) []*message.Message {
	var out []*message.Message
	for _, m := range h.messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// Clear drops all messages.
func (h *History) Clear() {
	h.messages = nil
}

// Size returns the number of retained messages.
func (h *History) Size() int {
	return len(h.messages)
}
