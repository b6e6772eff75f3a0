package task

import (
	"testing"
	"time"
)

func TestNew_SetsDefaults(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tk := New("agent:execute", []byte(`{}`), PriorityHigh, SourceUser, now)

	if tk.ID == "" {
		t.Fatalf("expected non-empty ID")
	}
	if tk.Status != StatusPending {
		t.Fatalf("expected StatusPending, got %s", tk.Status)
	}
	if tk.MaxRetries != 3 {
		t.Fatalf("expected default MaxRetries=3, got %d", tk.MaxRetries)
	}
	if !tk.CreatedAt.Equal(now) {
		t.Fatalf("expected CreatedAt=%v, got %v", now, tk.CreatedAt)
	}
}

func TestChild_InheritsCorrelation(t *testing.T) {
	now := time.Unix(1700000000, 0)
	parent := New("agent:execute", nil, PriorityNormal, SourceUser, now)
	parent.CorrelationID = "chain-1"

	child := parent.Child("agent:subtask", nil, PriorityNormal, now.Add(time.Second))

	if child.ParentID != parent.ID {
		t.Fatalf("expected ParentID=%s, got %s", parent.ID, child.ParentID)
	}
	if child.CorrelationID != "chain-1" {
		t.Fatalf("expected inherited correlation id, got %q", child.CorrelationID)
	}
	if child.Source != SourceAgent {
		t.Fatalf("expected SourceAgent, got %s", child.Source)
	}
}

func TestIsReady(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tk := New("t", nil, PriorityNormal, SourceUser, now)

	if !tk.IsReady(now) {
		t.Fatalf("task with nil ScheduledAt should always be ready")
	}

	future := now.Add(time.Hour)
	scheduled := tk.WithSchedule(future)
	if scheduled.IsReady(now) {
		t.Fatalf("task scheduled in the future must not be ready yet")
	}
	if !scheduled.IsReady(future) {
		t.Fatalf("task must be ready exactly at its scheduled time")
	}
}

func TestExceedsRetryBudget(t *testing.T) {
	tk := Task{MaxRetries: 2}

	tk.RetryCount = 1
	if tk.ExceedsRetryBudget() {
		t.Fatalf("1 retry of 2 must not exceed budget")
	}

	tk.RetryCount = 2
	if !tk.ExceedsRetryBudget() {
		t.Fatalf("2 retries of 2 must exceed budget")
	}
}

func TestPriority_String(t *testing.T) {
	cases := map[Priority]string{
		PriorityLow:      "low",
		PriorityNormal:   "normal",
		PriorityHigh:     "high",
		PriorityCritical: "critical",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Fatalf("Priority(%d).String() = %q, want %q", p, got, want)
		}
	}
}
