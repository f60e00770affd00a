// Package middleware provides the interception chain wrapped around each
// conversational turn before the orchestrator routes and executes it.
package middleware

import (
	"context"
)

// Context carries one turn through the middleware chain. Routing fields
// are filled in as the turn progresses: Intent after classification,
// AgentID once an agent is selected.
type Context struct {
	ConversationID string
	UserID         string

	// Input is the raw user message text.
	Input string

	// Intent is set by the orchestrator after classification.
	Intent string

	// AgentID is set by the orchestrator after routing.
	AgentID string

	// Metadata passes data between middlewares.
	Metadata map[string]interface{}

	context context.Context
}

// NewContext creates a middleware context for one turn.
func NewContext(ctx context.Context, conversationID, userID, input string) *Context {
	return &Context{
		ConversationID: conversationID,
		UserID:         userID,
		Input:          input,
		Metadata:       make(map[string]interface{}),
		context:        ctx,
	}
}

// Context returns the underlying context.Context.
func (c *Context) Context() context.Context {
	return c.context
}

// Middleware intercepts a turn. Returning an error stops the chain; the
// orchestrator surfaces it as the turn's terminal error event.
type Middleware interface {
	// Name identifies the middleware for logging and debugging.
	Name() string

	// Execute runs the middleware logic and calls next to continue.
	Execute(ctx *Context, next Handler) error
}

// Handler passes control to the next middleware or the turn itself.
type Handler func(*Context) error

// Chain is a sequence of middleware executed around a turn.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a middleware chain.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{
		middlewares: middlewares,
	}
}

// Add appends a middleware to the chain.
func (c *Chain) Add(m Middleware) *Chain {
	c.middlewares = append(c.middlewares, m)
	return c
}

// Len returns the number of middlewares in the chain.
func (c *Chain) Len() int {
	return len(c.middlewares)
}

// Execute runs the chain and finally the turn handler.
func (c *Chain) Execute(ctx *Context, finalHandler Handler) error {
	return c.execute(ctx, 0, finalHandler)
}

func (c *Chain) execute(ctx *Context, index int, finalHandler Handler) error {
	if index >= len(c.middlewares) {
		return finalHandler(ctx)
	}

	next := func(ctx *Context) error {
		return c.execute(ctx, index+1, finalHandler)
	}
	return c.middlewares[index].Execute(ctx, next)
}
