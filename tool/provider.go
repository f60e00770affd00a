package tool

import "context"

// Provider supplies tool definitions from an external source, such as an
// MCP server or a plugin system. Providers may resolve a different tool
// set per user.
type Provider interface {
	// Tools returns the tools currently available to the given user.
	Tools(ctx context.Context, userID string) ([]*Tool, error)

	// Close releases resources owned by the provider.
	Close() error

	// ToolsChanged returns a channel that fires when the tool set is
	// updated. Providers with a static tool set should return nil.
	ToolsChanged() <-chan struct{}
}

// StaticProvider exposes the contents of a Registry to every user.
type StaticProvider struct {
	registry *Registry
}

// NewStaticProvider creates a provider backed by the given registry.
// A nil registry is replaced with an empty one.
func NewStaticProvider(registry *Registry) *StaticProvider {
	if registry == nil {
		registry = NewRegistry()
	}
	return &StaticProvider{registry: registry}
}

// Tools returns all registered tools regardless of user.
func (p *StaticProvider) Tools(_ context.Context, _ string) ([]*Tool, error) {
	return p.registry.List(), nil
}

// Registry returns the underlying registry for direct registration.
func (p *StaticProvider) Registry() *Registry {
	return p.registry
}

// Close is a no-op for static providers.
func (p *StaticProvider) Close() error { return nil }

// ToolsChanged returns nil: a static provider never signals changes.
func (p *StaticProvider) ToolsChanged() <-chan struct{} { return nil }
