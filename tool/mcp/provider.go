package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/stallwart/switchboard/tool"
)

// Provider exposes MCP tools through the generic tool.Provider interface.
type Provider interface {
	tool.Provider
	// Client returns the MCP client serving the given user, dialing it
	// if necessary.
	Client(ctx context.Context, userID string) (*Client, error)
}

// Transport enumerates the supported MCP transport types.
type Transport string

const (
	// TransportStreamable indicates the streamable HTTP (SSE) transport.
	TransportStreamable Transport = "streamable"
	// TransportCommand indicates the stdio/command transport.
	TransportCommand Transport = "command"
)

// Config describes how to connect to an MCP server.
type Config struct {
	// Transport selects how to connect to the MCP server. If empty, defaults to
	// streamable HTTP when Endpoint is provided, otherwise command transport.
	Transport Transport
	// Endpoint is required for streamable HTTP connections.
	Endpoint string
	// Command is required for command transport connections.
	Command string
}

// Resolver maps a user to the MCP server configuration serving them.
// Multi-tenant deployments use it to route users to dedicated servers.
type Resolver func(ctx context.Context, userID string) (Config, error)

type provider struct {
	mu       sync.Mutex
	resolver Resolver
	opts     []Option
	clients  map[Config]*Client
	changed  chan struct{}
	closed   bool
	dial     func(ctx context.Context, cfg Config, opts []Option) (*Client, error)
}

// NewProvider connects to a single MCP server shared by all users.
func NewProvider(ctx context.Context, cfg Config, opts ...Option) (Provider, error) {
	p := NewPerUserProvider(func(context.Context, string) (Config, error) {
		return cfg, nil
	}, opts...)

	// Fail fast if we cannot connect and list tools.
	if _, err := p.Tools(ctx, ""); err != nil {
		_ = p.Close()
		return nil, err
	}

	return p, nil
}

// NewPerUserProvider routes each user to the MCP server chosen by the
// resolver. Connections are dialed on first use and shared between users
// that resolve to the same configuration.
func NewPerUserProvider(resolver Resolver, opts ...Option) Provider {
	if resolver == nil {
		panic("mcp: resolver cannot be nil")
	}
	return &provider{
		resolver: resolver,
		opts:     opts,
		clients:  make(map[Config]*Client),
		changed:  make(chan struct{}, 1),
		dial:     dialClient,
	}
}

func (p *provider) Tools(ctx context.Context, userID string) ([]*tool.Tool, error) {
	client, err := p.Client(ctx, userID)
	if err != nil {
		return nil, err
	}
	return client.BuildTools(ctx)
}

func (p *provider) Client(ctx context.Context, userID string) (*Client, error) {
	cfg, err := p.resolver(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("mcp: resolve server for user: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClientClosed
	}
	if client, ok := p.clients[cfg]; ok {
		p.mu.Unlock()
		return client, nil
	}
	p.mu.Unlock()

	client, err := p.dial(ctx, cfg, p.opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = client.Close()
		return nil, ErrClientClosed
	}
	if existing, ok := p.clients[cfg]; ok {
		// Lost the dial race; keep the first connection.
		p.mu.Unlock()
		_ = client.Close()
		return existing, nil
	}
	p.clients[cfg] = client
	p.mu.Unlock()

	go p.track(cfg, client)

	return client, nil
}

// track forwards change signals and evicts the client once its session
// ends, so the next lookup redials.
func (p *provider) track(cfg Config, client *Client) {
	for {
		select {
		case <-client.Done():
			p.mu.Lock()
			if p.clients[cfg] == client {
				delete(p.clients, cfg)
			}
			p.mu.Unlock()
			p.signal()
			return
		case _, ok := <-client.ToolsChanged():
			if !ok {
				return
			}
			p.signal()
		}
	}
}

func (p *provider) signal() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func (p *provider) ToolsChanged() <-chan struct{} {
	return p.changed
}

func (p *provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	clients := make([]*Client, 0, len(p.clients))
	for _, client := range p.clients {
		clients = append(clients, client)
	}
	p.clients = make(map[Config]*Client)
	p.mu.Unlock()

	var firstErr error
	for _, client := range clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func dialClient(ctx context.Context, cfg Config, opts []Option) (*Client, error) {
	transport := cfg.Transport
	if transport == "" {
		if cfg.Command != "" {
			transport = TransportCommand
		} else {
			transport = TransportStreamable
		}
	}

	switch transport {
	case TransportStreamable:
		if strings.TrimSpace(cfg.Endpoint) == "" {
			return nil, errors.New("mcp: endpoint is required for streamable transport")
		}
		return NewStreamableClient(ctx, cfg.Endpoint, opts...)
	case TransportCommand:
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, errors.New("mcp: command is required for command transport")
		}
		return NewStdioClient(ctx, cfg.Command, opts...)
	default:
		return nil, fmt.Errorf("mcp: unsupported transport %q", transport)
	}
}
