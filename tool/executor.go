package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/stallwart/switchboard/message"
	"github.com/stallwart/switchboard/pkg/logging"
)

// Status classifies the outcome of a tool call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// GenericNotice is shown while executing a tool that has no registered
// notice template.
const GenericNotice = "Executing tool..."

// Result is the outcome of a single tool call. CallID matches the ID of
// the originating call so the LLM can correlate request and response.
type Result struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Status  Status `json:"status"`
}

// errorKeywords drive the fallback classification for unstructured output.
var errorKeywords = []string{"error", "failed", "invalid", "validation"}

// Classify derives a status from raw tool output. Structured payloads
// carrying an explicit boolean "success" field are trusted as-is; all
// other content is scanned for error keywords.
func Classify(content string) Status {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(content), &payload); err == nil {
		if flag, ok := payload["success"].(bool); ok {
			if flag {
				return StatusSuccess
			}
			return StatusError
		}
	}

	lower := strings.ToLower(content)
	for _, keyword := range errorKeywords {
		if strings.Contains(lower, keyword) {
			return StatusError
		}
	}
	return StatusSuccess
}

// Executor resolves tools from providers and runs batches of tool calls.
// Execution never returns an error: every failure mode (unknown tool, bad
// arguments, handler error, handler panic) is converted into an error
// Result so the conversation can continue.
type Executor struct {
	mu        sync.RWMutex
	providers []Provider
	indexes   map[string]map[string]*Tool // userID -> tool name -> tool
	notices   map[string]string
	logger    *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithProviders registers tool providers with the executor.
func WithProviders(providers ...Provider) ExecutorOption {
	return func(e *Executor) {
		e.providers = append(e.providers, providers...)
	}
}

// WithNotice registers a user-facing notice shown while the named tool
// is executing.
func WithNotice(toolName, notice string) ExecutorOption {
	return func(e *Executor) {
		e.notices[toolName] = notice
	}
}

// WithExecutorLogger overrides the executor's logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates a tool executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		indexes: make(map[string]map[string]*Tool),
		notices: make(map[string]string),
		logger:  logging.WithComponent("tool.executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddProvider registers an additional provider and drops cached indexes
// so the next lookup sees its tools.
func (e *Executor) AddProvider(p Provider) {
	if p == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.providers = append(e.providers, p)
	e.indexes = make(map[string]map[string]*Tool)
}

// Providers returns a snapshot of the registered providers.
func (e *Executor) Providers() []Provider {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Provider, len(e.providers))
	copy(out, e.providers)
	return out
}

// Invalidate drops all cached per-user tool indexes. It is called when a
// provider signals that its tool set changed.
func (e *Executor) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indexes = make(map[string]map[string]*Tool)
}

// Index returns the tool set available to the given user, keyed by tool
// name. A provider that fails to resolve is logged and skipped rather
// than failing the whole index. The result is cached until a provider
// signals a change.
func (e *Executor) Index(ctx context.Context, userID string) map[string]*Tool {
	e.mu.RLock()
	cached, ok := e.indexes[userID]
	providers := e.providers
	e.mu.RUnlock()
	if ok {
		return cached
	}

	index := make(map[string]*Tool)
	for _, p := range providers {
		tools, err := p.Tools(ctx, userID)
		if err != nil {
			e.logger.Warn("tool provider failed, skipping",
				"user_id", userID,
				"error", err)
			continue
		}
		for _, t := range tools {
			if t == nil || t.Name == "" {
				continue
			}
			index[t.Name] = t
		}
	}

	e.mu.Lock()
	e.indexes[userID] = index
	e.mu.Unlock()
	return index
}

// Schemas returns the user's tool set in JSON schema format for the LLM.
func (e *Executor) Schemas(ctx context.Context, userID string) []map[string]interface{} {
	index := e.Index(ctx, userID)
	schemas := make([]map[string]interface{}, 0, len(index))
	for _, t := range index {
		schemas = append(schemas, t.ToJSONSchema())
	}
	return schemas
}

// DescribePending returns one user-facing notice per pending tool call,
// in call order.
func (e *Executor) DescribePending(calls []message.ToolCall) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(calls))
	for _, call := range calls {
		if notice, ok := e.notices[call.Name]; ok {
			out = append(out, notice)
			continue
		}
		out = append(out, GenericNotice)
	}
	return out
}

// Execute runs a batch of tool calls for the given user and returns one
// result per call, in call order.
func (e *Executor) Execute(ctx context.Context, userID string, calls []message.ToolCall) []*Result {
	index := e.Index(ctx, userID)

	results := make([]*Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.executeOne(ctx, index, call))
	}
	return results
}

func (e *Executor) executeOne(ctx context.Context, index map[string]*Tool, call message.ToolCall) *Result {
	result := &Result{CallID: call.ID, Name: call.Name}

	t, ok := index[call.Name]
	if !ok {
		e.logger.Warn("unknown tool requested", "tool", call.Name)
		result.Content = fmt.Sprintf("Error: tool %q is not available", call.Name)
		result.Status = StatusError
		return result
	}

	args := call.Args
	if args == nil {
		args = make(map[string]interface{})
	}

	content, err := e.runTool(ctx, t, args)
	if err != nil {
		e.logger.Error("tool execution failed", "tool", call.Name, "error", err)
		result.Content = fmt.Sprintf("Error executing tool %q: %v", call.Name, err)
		result.Status = StatusError
		return result
	}

	result.Content = content
	result.Status = Classify(content)
	return result
}

// runTool invokes the tool handler with panic recovery.
func (e *Executor) runTool(ctx context.Context, t *Tool, args map[string]interface{}) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return t.Execute(ctx, args)
}

// Close closes all registered providers, returning the first error.
func (e *Executor) Close() error {
	e.mu.Lock()
	providers := e.providers
	e.providers = nil
	e.indexes = make(map[string]map[string]*Tool)
	e.mu.Unlock()

	var firstErr error
	for _, p := range providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
