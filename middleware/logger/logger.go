// Package logger provides turn logging middleware.
package logger

import (
	"log/slog"
	"time"

	"github.com/stallwart/switchboard/middleware"
	"github.com/stallwart/switchboard/pkg/logging"
)

// TurnLogger logs each turn entering and leaving the chain.
type TurnLogger struct {
	logger *slog.Logger
}

// NewTurnLogger creates a turn logging middleware.
func NewTurnLogger() *TurnLogger {
	return &TurnLogger{logger: logging.WithComponent("middleware.logger")}
}

// NewTurnLoggerWith uses the given logger instead of the default.
func NewTurnLoggerWith(logger *slog.Logger) *TurnLogger {
	if logger == nil {
		return NewTurnLogger()
	}
	return &TurnLogger{logger: logger}
}

// Name returns the middleware name.
func (m *TurnLogger) Name() string {
	return "TurnLogger"
}

// Execute logs the turn around the rest of the chain.
func (m *TurnLogger) Execute(ctx *middleware.Context, next middleware.Handler) error {
	start := time.Now()
	m.logger.Info("turn started",
		"conversation_id", ctx.ConversationID,
		"user_id", ctx.UserID,
		"input_len", len(ctx.Input))

	err := next(ctx)

	attrs := []any{
		"conversation_id", ctx.ConversationID,
		"intent", ctx.Intent,
		"agent_id", ctx.AgentID,
		"duration", time.Since(start),
	}
	if err != nil {
		m.logger.Error("turn failed", append(attrs, "error", err)...)
		return err
	}
	m.logger.Info("turn completed", attrs...)
	return nil
}
