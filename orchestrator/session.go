package orchestrator

import "sync"

// State names a session's position in its lifecycle.
type State string

const (
	// StateIdle means the conversation is open but no agent is active yet.
	StateIdle State = "idle"
	// StateAgentActive means one agent currently owns the conversation.
	StateAgentActive State = "agent_active"
	// StateSwitching marks the window inside a hand-off, between the
	// outgoing snapshot and the incoming agent_start.
	StateSwitching State = "switching"
	// StateEnded means the session is closed. The conversation id can only
	// be reused through a fresh StartConversation.
	StateEnded State = "ended"
)

// switchRequest is a caller-driven agent override, consumed by the next
// turn instead of intent classification.
type switchRequest struct {
	agentID string
	reason  string
}

// session owns all mutable per-conversation fields. turnMu serializes
// turns and shutdown, giving each conversation a single logical thread of
// control; mu guards field access so SwitchAgent and observers never wait
// behind a streaming turn.
type session struct {
	turnMu sync.Mutex

	mu             sync.Mutex
	conversationID string
	userID         string
	state          State
	currentAgent   string
	pending        *switchRequest

	// lastFinalState is the most recent final_state the active agent
	// reported, held for snapshotting on hand-off or end.
	lastFinalState map[string]any
}

func newSession(conversationID, userID string) *session {
	return &session{
		conversationID: conversationID,
		userID:         userID,
		state:          StateIdle,
	}
}

// requestSwitch records the override for the next turn, replacing any
// previous unconsumed request.
func (s *session) requestSwitch(agentID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &switchRequest{agentID: agentID, reason: reason}
}

// takePending consumes the switch request, if any.
func (s *session) takePending() *switchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.pending
	s.pending = nil
	return req
}

// snapshot returns the session's observable fields.
func (s *session) snapshot() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.currentAgent
}

func (s *session) phase() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setPhase(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// activate installs the agent as the conversation's owner. The incoming
// agent starts with no reported final state.
func (s *session) activate(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentAgent = agentID
	s.state = StateAgentActive
	s.lastFinalState = nil
}

func (s *session) recordFinalState(state map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFinalState = state
}

// outgoing returns what a hand-off or shutdown must snapshot: the current
// agent and its last reported state.
func (s *session) outgoing() (string, map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentAgent, s.lastFinalState
}
