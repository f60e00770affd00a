package conversation

import (
	"github.com/stallwart/switchboard/message"
)

// TokenCounter reports how many tokens a piece of text costs. The tiktoken
// adapter in contrib/tokenizer satisfies it.
type TokenCounter interface {
	CountTokens(text string) int
}

const defaultMaxMessages = 100

// Window bounds how much history reaches the model. System messages are
// always retained; the most recent other messages fill the remaining room.
type Window struct {
	maxMessages int
	tokenBudget int
	counter     TokenCounter
}

// WindowOption configures a Window.
type WindowOption func(*Window)

// WithMaxMessages caps the number of retained messages.
func WithMaxMessages(n int) WindowOption {
	return func(w *Window) {
		if n > 0 {
			w.maxMessages = n
		}
	}
}

// WithTokenBudget additionally caps the window by token count, measured
// with the given counter.
func WithTokenBudget(budget int, counter TokenCounter) WindowOption {
	return func(w *Window) {
		if budget > 0 && counter != nil {
			w.tokenBudget = budget
			w.counter = counter
		}
	}
}

// NewWindow builds a window with a 100-message default cap.
func NewWindow(opts ...WindowOption) *Window {
	w := &Window{maxMessages: defaultMaxMessages}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Apply trims history to the window's bounds and returns the result. The
// input slice is not modified.
func (w *Window) Apply(history []*message.Message) []*message.Message {
	trimmed := w.capMessages(history)
	if w.tokenBudget > 0 {
		trimmed = w.capTokens(trimmed)
	}
	return trimmed
}

func (w *Window) capMessages(history []*message.Message) []*message.Message {
	if w.maxMessages <= 0 || len(history) <= w.maxMessages {
		return history
	}

	var system []*message.Message
	for _, m := range history {
		if m.Role == message.RoleSystem {
			system = append(system, m)
		}
	}

	keep := w.maxMessages - len(system)
	if keep < 0 {
		keep = 0
	}
	recent := history[len(history)-keep:]

	out := make([]*message.Message, 0, w.maxMessages)
	out = append(out, system...)
	for _, m := range recent {
		if m.Role != message.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

func (w *Window) capTokens(history []*message.Message) []*message.Message {
	budget := w.tokenBudget
	var system []*message.Message
	for _, m := range history {
		if m.Role == message.RoleSystem {
			system = append(system, m)
			budget -= w.counter.CountTokens(m.Content)
		}
	}

	// Fill the remaining budget newest-first, then restore order.
	var kept []*message.Message
	for i := len(history) - 1; i >= 0 && budget > 0; i-- {
		m := history[i]
		if m.Role == message.RoleSystem {
			continue
		}
		cost := w.counter.CountTokens(m.Content)
		if cost > budget {
			break
		}
		budget -= cost
		kept = append(kept, m)
	}

	out := make([]*message.Message, 0, len(system)+len(kept))
	out = append(out, system...)
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	return out
}
