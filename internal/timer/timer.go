// Package timer implements drift-free fire-time scheduling for the RunLoop
// kernel: one-shot and fixed-interval timers, plus a cron-driven variant.
package timer

import (
	"sync"
	"time"

	"github.com/basket/goclaw-runloop/internal/rlmode"
	"github.com/basket/goclaw-runloop/internal/task"
)

// Timer fires once (if Repeat is zero) or on a fixed interval. Repeating
// timers compute their next fire time as next_fire_at += interval rather
// than now + interval, so a late tick never compounds drift across
// subsequent firings.
type Timer struct {
	id       string
	interval time.Duration // zero means one-shot
	taskType string
	priority task.Priority
	modes    []rlmode.Mode

	mu        sync.Mutex
	nextFire  time.Time
	cancelled bool
}

// New constructs a Timer that fires once at fireAt.
func New(id string, fireAt time.Time, taskType string, modes []rlmode.Mode) *Timer {
	return &Timer{id: id, nextFire: fireAt, taskType: taskType, priority: task.PriorityNormal, modes: modes}
}

// NewRepeating constructs a Timer whose first fire is at fireAt and which
// then re-arms every interval.
func NewRepeating(id string, fireAt time.Time, interval time.Duration, taskType string, modes []rlmode.Mode) *Timer {
	return &Timer{id: id, nextFire: fireAt, interval: interval, taskType: taskType, priority: task.PriorityNormal, modes: modes}
}

// WithPriority overrides the default Normal priority stamped on emitted tasks.
func (t *Timer) WithPriority(p task.Priority) *Timer {
	t.priority = p
	return t
}

// ID returns the timer's identifier.
func (t *Timer) ID() string { return t.id }

// TaskType returns the task_type to stamp on the Task this timer produces.
func (t *Timer) TaskType() string { return t.taskType }

// Priority returns the priority to stamp on the Task this timer produces.
func (t *Timer) Priority() task.Priority { return t.priority }

// Modes returns the RunLoop modes this timer participates in.
func (t *Timer) Modes() []rlmode.Mode { return t.modes }

// IsRepeating reports whether the timer re-arms after firing.
func (t *Timer) IsRepeating() bool { return t.interval > 0 }

// NextFireAt returns the next scheduled fire time.
func (t *Timer) NextFireAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextFire
}

// IsCancelled reports whether Cancel has been called.
func (t *Timer) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Cancel marks the timer cancelled. Idempotent.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

// DueAt reports whether the timer should fire by now, and if so advances
// nextFire (for repeating timers) using next_fire_at += interval to stay
// drift-free across delayed ticks. A one-shot timer is cancelled once fired.
func (t *Timer) DueAt(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled || now.Before(t.nextFire) {
		return false
	}

	if t.interval > 0 {
		for !t.nextFire.After(now) {
			t.nextFire = t.nextFire.Add(t.interval)
		}
	} else {
		t.cancelled = true
	}
	return true
}
