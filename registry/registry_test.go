package registry

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stallwart/switchboard/agent"
	errorskg "github.com/stallwart/switchboard/errors"
	"github.com/stallwart/switchboard/event"
)

type stubAgent struct {
	agent.Base
}

func (s *stubAgent) Execute(context.Context, *agent.State) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		yield(event.NewAgentComplete(s.ID(), nil), nil)
	}
}

func newStub(id string, intents ...string) *stubAgent {
	return &stubAgent{Base: agent.NewBase(agent.Spec{
		ID:      id,
		Name:    id + " agent",
		Intents: intents,
	})}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(newStub("product", "product")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := reg.Register(newStub("product", "inventory"))
	if !errors.Is(err, errorskg.ErrDuplicateAgent) {
		t.Fatalf("expected ErrDuplicateAgent, got %v", err)
	}
	if reg.Count() != 1 {
		t.Errorf("failed registration must not change the count, got %d", reg.Count())
	}
}

func TestRegisterInvalid(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(nil); !errors.Is(err, errorskg.ErrInvalidAgent) {
		t.Errorf("expected ErrInvalidAgent for nil agent, got %v", err)
	}
	if err := reg.Register(newStub("", "product")); !errors.Is(err, errorskg.ErrInvalidAgent) {
		t.Errorf("expected ErrInvalidAgent for empty id, got %v", err)
	}

	unnamed := &stubAgent{Base: agent.NewBase(agent.Spec{ID: "x", Intents: []string{"product"}})}
	if err := reg.Register(unnamed); !errors.Is(err, errorskg.ErrInvalidAgent) {
		t.Errorf("expected ErrInvalidAgent for empty name, got %v", err)
	}
}

func TestFindAgentForIntent(t *testing.T) {
	reg := NewRegistry()
	a := newStub("a", "product")
	b := newStub("b", "pricing")
	for _, ag := range []*stubAgent{a, b} {
		if err := reg.Register(ag); err != nil {
			t.Fatalf("register %s: %v", ag.ID(), err)
		}
	}

	if got := reg.FindAgentForIntent("pricing-check", nil); got != b {
		t.Errorf("expected b for pricing-check, got %v", got)
	}
	if got := reg.FindAgentForIntent("shipping", nil); got != nil {
		t.Errorf("expected no agent for shipping, got %v", got)
	}
}

func TestFindAgentFirstRegisteredWins(t *testing.T) {
	reg := NewRegistry()
	first := newStub("first", "product")
	second := newStub("second", "product")
	if err := reg.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(second); err != nil {
		t.Fatal(err)
	}

	if got := reg.FindAgentForIntent("product", nil); got != first {
		t.Errorf("expected the first registered agent to win, got %s", got.ID())
	}
}

func TestUnregister(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(newStub("a", "product")); err != nil {
		t.Fatal(err)
	}

	if !reg.Unregister("a") {
		t.Error("expected removal to be reported")
	}
	if reg.Unregister("a") {
		t.Error("expected second removal to report false")
	}
	if reg.Count() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Count())
	}
	if reg.FindAgentForIntent("product", nil) != nil {
		t.Error("unregistered agent must not be routable")
	}
}

func TestAgentsForIntents(t *testing.T) {
	reg := NewRegistry()
	a := newStub("a", "product")
	b := newStub("b", "pricing")
	c := newStub("c", "analytics")
	for _, ag := range []*stubAgent{a, b, c} {
		if err := reg.Register(ag); err != nil {
			t.Fatal(err)
		}
	}

	got := reg.AgentsForIntents([]string{"product", "pricing", "product-detail"})
	if len(got) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(got))
	}
	if got[0] != a || got[1] != b {
		t.Errorf("expected [a b] in registration order, got [%s %s]", got[0].ID(), got[1].ID())
	}
}

func TestSummaries(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(newStub("product", "product", "listing")); err != nil {
		t.Fatal(err)
	}

	summaries := reg.Summaries()
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.ID != "product" || s.Name != "product agent" {
		t.Errorf("unexpected summary identity: %+v", s)
	}
	if len(s.Intents) != 2 {
		t.Errorf("expected 2 intents, got %v", s.Intents)
	}
}

func TestListCopies(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(newStub("a", "product")); err != nil {
		t.Fatal(err)
	}

	list := reg.List()
	list[0] = nil
	if reg.List()[0] == nil {
		t.Error("mutating the returned slice must not affect the registry")
	}
}
