package event

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestConstructorsSetVariantFields(t *testing.T) {
	start := NewAgentStart("product_agent", "Product Agent")
	if start.Type != TypeAgentStart {
		t.Errorf("Expected type %s, got %s", TypeAgentStart, start.Type)
	}
	if start.AgentID != "product_agent" || start.AgentName != "Product Agent" {
		t.Errorf("Unexpected identity fields: %q %q", start.AgentID, start.AgentName)
	}
	if start.ID == "" {
		t.Error("Expected non-empty event ID")
	}
	if start.Timestamp.IsZero() {
		t.Error("Expected non-zero timestamp")
	}

	sw := NewAgentSwitch("none", "product_agent", "intent: product_management")
	if sw.FromAgent != "none" || sw.ToAgent != "product_agent" {
		t.Errorf("Unexpected switch fields: %q -> %q", sw.FromAgent, sw.ToAgent)
	}

	res := NewToolResult("product_agent", "list_products", `{"success":true}`, "success")
	if res.ToolName != "list_products" || res.Status != "success" {
		t.Errorf("Unexpected tool result fields: %q %q", res.ToolName, res.Status)
	}
}

func TestIsTerminal(t *testing.T) {
	cases := []struct {
		event    *Event
		terminal bool
	}{
		{NewAgentStart("a", "A"), false},
		{NewAgentSwitch("a", "b", ""), false},
		{NewContentChunk("a", "hi"), false},
		{NewToolExecution("a", "t"), false},
		{NewToolResult("a", "t", "", "success"), false},
		{NewAgentComplete("a", nil), true},
		{NewError("a", "boom"), true},
		{NewConversationEnd(), true},
	}

	for _, c := range cases {
		if got := c.event.IsTerminal(); got != c.terminal {
			t.Errorf("%s: IsTerminal() = %v, want %v", c.event.Type, got, c.terminal)
		}
	}
}

func TestEncodeWritesSSEFrame(t *testing.T) {
	e := NewContentChunk("pricing_agent", "the margin is 12%")
	e.ConversationID = "conv-1"

	var buf strings.Builder
	if err := Encode(&buf, e); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	frame := buf.String()
	if !strings.HasPrefix(frame, "data: ") {
		t.Errorf("Expected frame to start with 'data: ', got %q", frame)
	}
	if !strings.HasSuffix(frame, "\n\n") {
		t.Errorf("Expected frame to end with blank line, got %q", frame)
	}

	var decoded Event
	payload := strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("Frame payload is not valid JSON: %v", err)
	}
	if decoded.Type != TypeContentChunk {
		t.Errorf("Expected type %s, got %s", TypeContentChunk, decoded.Type)
	}
	if decoded.Content != "the margin is 12%" {
		t.Errorf("Unexpected content: %q", decoded.Content)
	}
	if decoded.ConversationID != "conv-1" {
		t.Errorf("Unexpected conversation id: %q", decoded.ConversationID)
	}
}

func TestEmptyFieldsOmitted(t *testing.T) {
	data, err := json.Marshal(NewConversationEnd())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	for _, field := range []string{"agent_id", "from_agent", "content", "tool_name", "result", "final_state", "error"} {
		if strings.Contains(string(data), `"`+field+`"`) {
			t.Errorf("Expected %s to be omitted, got %s", field, data)
		}
	}
}
