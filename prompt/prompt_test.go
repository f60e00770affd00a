package prompt

import (
	"errors"
	"strings"
	"testing"

	errorskg "github.com/stallwart/switchboard/errors"
)

func TestManagerRegisterAndRender(t *testing.T) {
	m := NewManager()

	if err := m.RegisterString("system", "You are {{.AgentName}}."); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := m.Render("system", map[string]interface{}{"AgentName": "Product Expert"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "You are Product Expert." {
		t.Errorf("unexpected render: %q", got)
	}
}

func TestManagerRejectsDuplicates(t *testing.T) {
	m := NewManager()
	if err := m.RegisterString("system", "one"); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := m.RegisterString("system", "two")
	if !errors.Is(err, errorskg.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestManagerUnknownTemplate(t *testing.T) {
	m := NewManager()

	if _, err := m.Get("missing"); !errors.Is(err, errorskg.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.Render("missing", nil); !errors.Is(err, errorskg.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from render, got %v", err)
	}
}

func TestManagerRejectsBadTemplate(t *testing.T) {
	m := NewManager()
	if err := m.RegisterString("bad", "{{.Unclosed"); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestManagerList(t *testing.T) {
	m := NewManager()
	for _, name := range []string{"zebra", "alpha", "mid"} {
		if err := m.RegisterString(name, "x"); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	got := m.List()
	want := []string{"alpha", "mid", "zebra"}
	if len(got) != len(want) {
		t.Fatalf("expected %d names, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestBuilderSections(t *testing.T) {
	got := NewBuilder().
		AddLine("You are a pricing analyst.").
		AddSection("Rules", "Never quote below cost.").
		Build()

	if !strings.Contains(got, "You are a pricing analyst.\n") {
		t.Errorf("missing lead line: %q", got)
	}
	if !strings.Contains(got, "## Rules\nNever quote below cost.\n") {
		t.Errorf("missing section: %q", got)
	}
}

func TestBuilderSlotsSortedAndStable(t *testing.T) {
	slots := map[string]any{
		"currency":        "USD",
		"currentProducts": []string{"sku-1001"},
		"budget":          250,
	}

	first := NewBuilder().AddSlots("Context", slots).Build()
	second := NewBuilder().AddSlots("Context", slots).Build()
	if first != second {
		t.Fatal("expected deterministic slot rendering")
	}

	budget := strings.Index(first, "- budget:")
	currency := strings.Index(first, "- currency:")
	products := strings.Index(first, "- currentProducts:")
	if budget == -1 || currency == -1 || products == -1 {
		t.Fatalf("missing slot lines: %q", first)
	}
	if !(budget < currency && currency < products) {
		t.Errorf("expected slots sorted by key: %q", first)
	}
}

func TestBuilderSkipsEmptySlots(t *testing.T) {
	got := NewBuilder().AddSlots("Context", nil).Build()
	if got != "" {
		t.Errorf("expected no output for empty slots, got %q", got)
	}
}

func TestBuilderReset(t *testing.T) {
	b := NewBuilder().Add("one")
	if b.Reset().Build() != "" {
		t.Error("expected an empty prompt after Reset")
	}
}
