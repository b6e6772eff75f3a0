package shared

import (
	"context"
	"testing"
)

func TestTraceID_DefaultDash(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
	ctx = WithTraceID(ctx, "trace-1")
	if got := TraceID(ctx); got != "trace-1" {
		t.Fatalf("expected trace-1, got %q", got)
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RunID(ctx); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
	ctx = WithRunID(ctx, "run-1")
	if got := RunID(ctx); got != "run-1" {
		t.Fatalf("expected run-1, got %q", got)
	}
}

func TestTaskID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTaskID(ctx, "task-1")
	if got := TaskID(ctx); got != "task-1" {
		t.Fatalf("expected task-1, got %q", got)
	}
}

func TestAgentID_DefaultDash(t *testing.T) {
	ctx := context.Background()
	if got := AgentID(ctx); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
	ctx = WithAgentID(ctx, "test-agent")
	if got := AgentID(ctx); got != "test-agent" {
		t.Fatalf("expected test-agent, got %q", got)
	}
}

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationID(ctx); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
	ctx = WithCorrelationID(ctx, "corr-1")
	if got := CorrelationID(ctx); got != "corr-1" {
		t.Fatalf("expected corr-1, got %q", got)
	}
}

func TestNewTraceID_NewRunID_Unique(t *testing.T) {
	if NewTraceID() == NewTraceID() {
		t.Fatalf("expected distinct trace IDs")
	}
	if NewRunID() == NewRunID() {
		t.Fatalf("expected distinct run IDs")
	}
}
