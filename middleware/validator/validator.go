// Package validator provides input validation middleware for the turn
// chain.
package validator

import (
	"fmt"
	"strings"

	"github.com/stallwart/switchboard/errors"
	"github.com/stallwart/switchboard/middleware"
)

// ValidatorFunc validates the turn input.
type ValidatorFunc func(string) error

// InputValidator rejects turns whose input fails validation.
type InputValidator struct {
	validator ValidatorFunc
}

// NewInputValidator creates an input validation middleware. A nil
// function falls back to NonEmpty.
func NewInputValidator(validator ValidatorFunc) *InputValidator {
	if validator == nil {
		validator = NonEmpty
	}
	return &InputValidator{validator: validator}
}

// Name returns the middleware name.
func (m *InputValidator) Name() string {
	return "InputValidator"
}

// Execute validates the input before the turn proceeds.
func (m *InputValidator) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if err := m.validator(ctx.Input); err != nil {
		return err
	}
	return next(ctx)
}

// NonEmpty rejects blank input.
func NonEmpty(input string) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("message is empty: %w", errors.ErrInvalidInput)
	}
	return nil
}

// MaxLength returns a validator rejecting input longer than limit bytes.
func MaxLength(limit int) ValidatorFunc {
	return func(input string) error {
		if err := NonEmpty(input); err != nil {
			return err
		}
		if len(input) > limit {
			return fmt.Errorf("message exceeds %d bytes: %w", limit, errors.ErrInvalidInput)
		}
		return nil
	}
}
