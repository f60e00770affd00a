// Package enricher stamps turn metadata ahead of routing.
package enricher

import (
	"github.com/stallwart/switchboard/middleware"
)

// Func adds data to the turn context before the rest of the chain runs.
type Func func(*middleware.Context) error

// ContextEnricher applies enrichment functions in order. A failing
// function stops the turn before routing happens.
type ContextEnricher struct {
	fns []Func
}

// NewContextEnricher creates middleware that runs the given enrichers
// ahead of the chain.
func NewContextEnricher(fns ...Func) *ContextEnricher {
	return &ContextEnricher{fns: fns}
}

// Name identifies the middleware in chain configuration.
func (m *ContextEnricher) Name() string {
	return "ContextEnricher"
}

// Execute runs every enricher, then continues the chain.
func (m *ContextEnricher) Execute(ctx *middleware.Context, next middleware.Handler) error {
	for _, fn := range m.fns {
		if fn == nil {
			continue
		}
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return next(ctx)
}
