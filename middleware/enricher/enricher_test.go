package enricher

import (
	"context"
	"errors"
	"testing"

	"github.com/stallwart/switchboard/middleware"
)

func TestEnrichersRunInOrder(t *testing.T) {
	m := NewContextEnricher(
		func(mctx *middleware.Context) error {
			mctx.Metadata["trace"] = "a"
			return nil
		},
		func(mctx *middleware.Context) error {
			mctx.Metadata["trace"] = mctx.Metadata["trace"].(string) + "b"
			return nil
		},
	)

	mctx := middleware.NewContext(context.Background(), "conv-1", "user-1", "hello")
	nextCalled := false
	err := m.Execute(mctx, func(*middleware.Context) error {
		nextCalled = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !nextCalled {
		t.Fatal("chain should continue after enrichment")
	}
	if got := mctx.Metadata["trace"]; got != "ab" {
		t.Fatalf("enrichers should run in registration order, got %v", got)
	}
}

func TestFailedEnricherStopsTurn(t *testing.T) {
	boom := errors.New("lookup failed")
	m := NewContextEnricher(func(*middleware.Context) error {
		return boom
	})

	mctx := middleware.NewContext(context.Background(), "conv-1", "user-1", "hello")
	nextCalled := false
	err := m.Execute(mctx, func(*middleware.Context) error {
		nextCalled = true
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected enricher error, got %v", err)
	}
	if nextCalled {
		t.Fatal("chain should not continue after a failed enricher")
	}
}

func TestNilEnrichersSkipped(t *testing.T) {
	m := NewContextEnricher(nil, func(mctx *middleware.Context) error {
		mctx.Metadata["channel"] = "http"
		return nil
	})

	mctx := middleware.NewContext(context.Background(), "conv-1", "user-1", "hello")
	err := m.Execute(mctx, func(*middleware.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mctx.Metadata["channel"] != "http" {
		t.Fatal("non-nil enricher should still run")
	}
}
