// Package errorhandler provides error mapping and panic recovery
// middleware for the turn chain.
package errorhandler

import (
	"fmt"
	"log/slog"

	"github.com/stallwart/switchboard/middleware"
	"github.com/stallwart/switchboard/pkg/logging"
)

// HandlerFunc maps an error from downstream to the error surfaced to the
// orchestrator.
type HandlerFunc func(error) error

// ErrorHandler rewrites errors from the rest of the chain.
type ErrorHandler struct {
	handler HandlerFunc
}

// NewErrorHandler creates an error handling middleware.
func NewErrorHandler(handler HandlerFunc) *ErrorHandler {
	return &ErrorHandler{handler: handler}
}

// Name returns the middleware name.
func (m *ErrorHandler) Name() string {
	return "ErrorHandler"
}

// Execute handles errors from downstream middlewares.
func (m *ErrorHandler) Execute(ctx *middleware.Context, next middleware.Handler) error {
	err := next(ctx)
	if err != nil && m.handler != nil {
		return m.handler(err)
	}
	return err
}

// Recovery converts a panic anywhere downstream into an error, so one
// misbehaving turn cannot take the process down.
type Recovery struct {
	logger *slog.Logger
}

// NewRecovery creates a panic recovery middleware.
func NewRecovery() *Recovery {
	return &Recovery{logger: logging.WithComponent("middleware.recovery")}
}

// Name returns the middleware name.
func (m *Recovery) Name() string {
	return "Recovery"
}

// Execute recovers panics from the rest of the chain.
func (m *Recovery) Execute(ctx *middleware.Context, next middleware.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("turn panicked",
				"conversation_id", ctx.ConversationID,
				"panic", r)
			err = fmt.Errorf("turn panicked: %v", r)
		}
	}()
	return next(ctx)
}
