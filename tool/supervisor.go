package tool

import (
	"context"
	"log/slog"
	"sync"

	"github.com/stallwart/switchboard/pkg/logging"
)

// Supervisor watches tool providers and drops the executor's cached
// per-user indexes whenever a provider reports a changed tool set. The
// executor keeps ownership of the providers; closing the supervisor only
// stops the watchers.
type Supervisor struct {
	executor *Executor
	mu       sync.Mutex
	watchers map[Provider]context.CancelFunc
	logger   *slog.Logger
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger overrides the supervisor's logger.
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSupervisor constructs a Supervisor bound to the given executor.
func NewSupervisor(executor *Executor, opts ...SupervisorOption) *Supervisor {
	if executor == nil {
		panic("tool: executor cannot be nil")
	}
	s := &Supervisor{
		executor: executor,
		watchers: make(map[Provider]context.CancelFunc),
		logger:   logging.WithComponent("tool.supervisor"),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// Start begins watching every provider currently registered with the
// executor. It can be called again after new providers are added;
// providers already being watched are skipped.
func (s *Supervisor) Start() {
	for _, provider := range s.executor.Providers() {
		s.startWatcher(provider)
	}
}

// Close stops all watchers.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.watchers {
		cancel()
	}
	s.watchers = make(map[Provider]context.CancelFunc)
}

func (s *Supervisor) startWatcher(provider Provider) {
	if provider == nil {
		return
	}
	ch := provider.ToolsChanged()
	if ch == nil {
		return
	}

	s.mu.Lock()
	if _, exists := s.watchers[provider]; exists {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.watchers[provider] = cancel
	s.mu.Unlock()

	go s.watch(ctx, provider, ch)
}

func (s *Supervisor) watch(ctx context.Context, provider Provider, ch <-chan struct{}) {
	defer s.stopWatcher(provider)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			s.executor.Invalidate()
			s.logger.Debug("provider tool set changed, dropped cached indexes")
		}
	}
}

func (s *Supervisor) stopWatcher(provider Provider) {
	s.mu.Lock()
	if cancel, ok := s.watchers[provider]; ok {
		cancel()
		delete(s.watchers, provider)
	}
	s.mu.Unlock()
}
