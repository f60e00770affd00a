// Package transport serves an orchestrator over HTTP. A message turn
// streams its events back as Server-Sent Events; every other endpoint
// speaks plain JSON.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stallwart/switchboard/conversation"
	errorskg "github.com/stallwart/switchboard/errors"
	"github.com/stallwart/switchboard/event"
	"github.com/stallwart/switchboard/message"
	"github.com/stallwart/switchboard/orchestrator"
	"github.com/stallwart/switchboard/pkg/logging"
)

// Server is the HTTP front of an orchestrator.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	addr         string
	logger       *slog.Logger

	httpServer *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithAddr sets the listen address. Defaults to ":8080".
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithLogger overrides the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer builds the HTTP surface over an orchestrator.
func NewServer(o *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orchestrator: o,
		addr:         ":8080",
		logger:       logging.WithComponent("transport"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table, so callers can mount it under their
// own mux or middleware instead of using Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversations", s.handleStartConversation)
	mux.HandleFunc("GET /conversations/{id}", s.handleSessionState)
	mux.HandleFunc("DELETE /conversations/{id}", s.handleEndConversation)
	mux.HandleFunc("POST /conversations/{id}/messages", s.handleMessage)
	mux.HandleFunc("POST /conversations/{id}/switch", s.handleSwitchAgent)
	mux.HandleFunc("GET /conversations/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /agents", s.handleListAgents)
	return s.logRequests(mux)
}

// Start serves until the listener closes. A clean Shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("transport: serve: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type startRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type messageRequest struct {
	UserID   string         `json:"user_id"`
	Message  string         `json:"message"`
	History  []historyItem  `json:"history,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type historyItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type switchRequest struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}

type sessionResponse struct {
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`
	AgentID        string `json:"agent_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleStartConversation opens (or reopens) a session and reports its
// state. POST /conversations
func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.orchestrator.StartConversation(r.Context(), req.ConversationID, req.UserID); err != nil {
		s.respondError(w, statusFor(err), err)
		return
	}
	state, agentID, _ := s.orchestrator.SessionState(req.ConversationID)
	s.respondJSON(w, http.StatusCreated, sessionResponse{
		ConversationID: req.ConversationID,
		State:          string(state),
		AgentID:        agentID,
	})
}

// handleSessionState reports a session's lifecycle state and active agent.
// GET /conversations/{id}
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, agentID, ok := s.orchestrator.SessionState(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("conversation %s: %w", id, errorskg.ErrSessionNotFound))
		return
	}
	s.respondJSON(w, http.StatusOK, sessionResponse{
		ConversationID: id,
		State:          string(state),
		AgentID:        agentID,
	})
}

// handleMessage runs one turn and relays its events as SSE frames. The
// request context cancels the turn when the client disconnects.
// POST /conversations/{id}/messages
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	convCtx := &conversation.Context{
		ConversationID: conversationID,
		UserID:         req.UserID,
		History:        historyMessages(req.History),
		Metadata:       req.Metadata,
	}

	streamed := false
	for ev, err := range s.orchestrator.ProcessMessage(r.Context(), req.Message, convCtx) {
		if err != nil {
			// Before the first frame the response is still uncommitted and
			// the error can travel as a normal HTTP status. After that the
			// stream is already a 200, so the error only logs.
			if !streamed {
				s.respondError(w, statusFor(err), err)
				return
			}
			s.logger.Warn("turn aborted mid-stream",
				"conversation_id", conversationID, "error", err)
			return
		}
		if ev == nil {
			continue
		}
		if err := event.Encode(w, ev); err != nil {
			s.logger.Warn("stream write failed",
				"conversation_id", conversationID, "error", err)
			return
		}
		streamed = true
		flusher.Flush()
	}
}

// handleSwitchAgent pins the agent for the conversation's next turn.
// POST /conversations/{id}/switch
func (s *Server) handleSwitchAgent(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.orchestrator.SwitchAgent(r.PathValue("id"), req.AgentID, req.Reason); err != nil {
		s.respondError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEndConversation closes the session and returns the final event.
// DELETE /conversations/{id}
func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	ev, err := s.orchestrator.EndConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, statusFor(err), err)
		return
	}
	s.respondJSON(w, http.StatusOK, ev)
}

// handleEvents replays the conversation's journal in append order.
// GET /conversations/{id}/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	records, err := s.orchestrator.Events(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, statusFor(err), err)
		return
	}
	s.respondJSON(w, http.StatusOK, records)
}

// handleListAgents returns the registered agent directory.
// GET /agents
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.orchestrator.Agents())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response encoding failed", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respondJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps the module's sentinel errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errorskg.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errorskg.ErrSessionNotFound), errors.Is(err, errorskg.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errorskg.ErrSessionEnded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func historyMessages(items []historyItem) []*message.Message {
	if len(items) == 0 {
		return nil
	}
	out := make([]*message.Message, 0, len(items))
	for _, item := range items {
		out = append(out, message.NewMessage(message.Role(item.Role), item.Content))
	}
	return out
}
