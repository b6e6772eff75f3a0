// Package task defines the unit of work carried through the RunLoop's
// queue: a task record with scheduling, retry, and correlation metadata.
// The core is agnostic to what a task's payload means.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks within the queue's max-heap. Higher values run first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Source identifies what produced a task.
type Source string

const (
	SourceUser     Source = "user"
	SourceAgent    Source = "agent"
	SourceTimer    Source = "timer"
	SourceSystem   Source = "system"
	SourceExternal Source = "external"
)

// Status is a task's lifecycle state. Transitions are monotonic except
// Pending<->Running (Failed->Pending happens via retry).
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

// Reserved task_type prefixes dispatched by the agent driver and recognized
// by front-end collaborators. The core does not interpret these beyond the
// prefix match performed by the agent driver.
const (
	TypeAgentExecute    = "agent:execute"
	TypeAgentSubtask    = "agent:subtask"
	TypeAgentDelayed    = "agent:delayed"
	TypeTriggerWebhook  = "trigger:webhook"
	TypeTriggerGitHub   = "trigger:github"
	TypeSystemHeartbeat = "system:heartbeat"
)

// Task is the immutable-by-convention unit of work carried through the
// queue. Callers should treat a dequeued Task as owned by the worker that
// dequeued it until it returns the task to Complete/Retry/DeadLetter.
type Task struct {
	ID       string
	TaskType string
	Payload  []byte // opaque, JSON-equivalent structured value

	Priority Priority
	Source   Source

	CreatedAt   time.Time
	ScheduledAt *time.Time // nil means ready as soon as created

	ParentID      string
	CorrelationID string

	RetryCount int
	MaxRetries int
	LastError  string

	Status Status
}

// New constructs a Task with a fresh ID and created_at timestamp. now is
// injected so callers (and tests) control the wall clock explicitly.
func New(taskType string, payload []byte, priority Priority, source Source, now time.Time) Task {
	return Task{
		ID:         uuid.NewString(),
		TaskType:   taskType,
		Payload:    payload,
		Priority:   priority,
		Source:     source,
		CreatedAt:  now,
		MaxRetries: 3,
		Status:     StatusPending,
	}
}

// Child constructs a follow-up Task inheriting the parent's correlation_id,
// per spec's (I3) correlation propagation invariant. The new task always has
// Source = SourceAgent and ParentID = parent.ID.
func (t Task) Child(taskType string, payload []byte, priority Priority, now time.Time) Task {
	child := New(taskType, payload, priority, SourceAgent, now)
	child.ParentID = t.ID
	child.CorrelationID = t.CorrelationID
	return child
}

// IsReady reports whether the task's scheduled_at has elapsed (or is absent)
// as of now.
func (t Task) IsReady(now time.Time) bool {
	return t.ScheduledAt == nil || !t.ScheduledAt.After(now)
}

// WithSchedule returns a copy of t scheduled to run at (or after) at.
func (t Task) WithSchedule(at time.Time) Task {
	t.ScheduledAt = &at
	return t
}

// ExceedsRetryBudget reports whether retry_count has reached max_retries,
// per invariant (I1): retry_count <= max_retries, else DeadLetter.
func (t Task) ExceedsRetryBudget() bool {
	return t.RetryCount >= t.MaxRetries
}
