package agent

import (
	"fmt"

	"github.com/stallwart/switchboard/errors"
)

// Spec captures the immutable configuration an agent is built from.
type Spec struct {
	ID            string
	Name          string
	Description   string
	Intents       []string
	Tools         []string
	SystemPrompt  string
	Model         string
	Temperature   float64
	MaxTokens     int64
	MaxIterations int
}

// Validate ensures the spec is well formed before the agent is built.
func (s Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("agent id is required: %w", errors.ErrInvalidAgent)
	}
	if s.Name == "" {
		return fmt.Errorf("agent %s: name is required: %w", s.ID, errors.ErrInvalidAgent)
	}
	if len(s.Intents) == 0 {
		return fmt.Errorf("agent %s: at least one intent keyword is required: %w", s.ID, errors.ErrInvalidAgent)
	}
	if s.SystemPrompt == "" {
		return fmt.Errorf("agent %s: system prompt is required: %w", s.ID, errors.ErrInvalidAgent)
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("agent %s: max iterations must be positive: %w", s.ID, errors.ErrInvalidAgent)
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("agent %s: temperature must be between 0 and 2: %w", s.ID, errors.ErrInvalidAgent)
	}
	return nil
}
