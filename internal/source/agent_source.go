package source

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/goclaw-runloop/internal/rlmode"
	"github.com/basket/goclaw-runloop/internal/task"
)

// Waker is the slice of RunLoop that AgentSource0 and Injector need: the
// ability to wake a waiting cycle after injecting work. internal/runloop's
// kernel satisfies this without source importing runloop.
type Waker interface {
	Wakeup(reason string)
}

// AgentSource0 is the Source0 that makes Agent self-driving possible: agents
// (or any in-process producer) inject tasks here, and the kernel drains them
// the next time it polls sources. Grounded on
// _examples/original_source/crates/autohands-runloop/src/agent_source.rs.
type AgentSource0 struct {
	id string

	mu      sync.Mutex
	pending []task.Task

	signaled  atomic.Bool
	cancelled atomic.Bool

	modes []rlmode.Mode
}

// NewAgentSource0 constructs an AgentSource0 subscribed to
// {Default, AgentProcessing} unless overridden with WithModes.
func NewAgentSource0(id string) *AgentSource0 {
	return &AgentSource0{
		id:    id,
		modes: []rlmode.Mode{rlmode.Default, rlmode.AgentProcessing},
	}
}

// WithModes overrides the default mode subscription.
func (s *AgentSource0) WithModes(modes ...rlmode.Mode) *AgentSource0 {
	s.modes = modes
	return s
}

func (s *AgentSource0) ID() string { return s.id }

func (s *AgentSource0) IsSignaled() bool { return s.signaled.Load() }

func (s *AgentSource0) Signal() { s.signaled.Store(true) }

func (s *AgentSource0) ClearSignal() { s.signaled.Store(false) }

// Inject queues t and wakes the RunLoop. This is the core mechanism for
// Agent self-driving: a handler produces follow-up tasks that flow back
// into the queue without the caller touching the kernel directly.
func (s *AgentSource0) Inject(t task.Task, w Waker) {
	s.mu.Lock()
	s.pending = append(s.pending, t)
	s.mu.Unlock()

	s.Signal()
	if w != nil {
		w.Wakeup("agent:task_injected")
	}
}

// InjectBatch queues multiple tasks in one signal+wakeup.
func (s *AgentSource0) InjectBatch(tasks []task.Task, w Waker) {
	if len(tasks) == 0 {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, tasks...)
	s.mu.Unlock()

	s.Signal()
	if w != nil {
		w.Wakeup("agent:tasks_injected")
	}
}

// PendingCount returns the number of tasks awaiting drain.
func (s *AgentSource0) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Clear drops all pending tasks without performing them.
func (s *AgentSource0) Clear() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	s.ClearSignal()
}

// Perform drains and returns every pending task, clearing the signal.
func (s *AgentSource0) Perform(ctx context.Context) ([]task.Task, error) {
	s.mu.Lock()
	drained := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.ClearSignal()
	slog.Debug("agent source0 performed", "source_id", s.id, "task_count", len(drained))
	return drained, nil
}

func (s *AgentSource0) Cancel() {
	s.cancelled.Store(true)
	s.Clear()
}

func (s *AgentSource0) Modes() []rlmode.Mode { return s.modes }

func (s *AgentSource0) IsValid() bool { return !s.cancelled.Load() }

// Injector is a convenience wrapper pairing an AgentSource0 with the
// RunLoop it feeds, so callers never have to remember the
// inject-then-signal-then-wakeup sequence themselves.
type Injector struct {
	source *AgentSource0
	waker  Waker
}

// NewInjector constructs an Injector over source, waking w after each inject.
func NewInjector(source *AgentSource0, w Waker) *Injector {
	return &Injector{source: source, waker: w}
}

// Inject queues a single task.
func (i *Injector) Inject(t task.Task) {
	i.source.Inject(t, i.waker)
}

// InjectBatch queues multiple tasks.
func (i *Injector) InjectBatch(tasks []task.Task) {
	i.source.InjectBatch(tasks, i.waker)
}

// CreateChildTask builds a follow-up task inheriting parent's correlation_id,
// per the correlation propagation invariant, without injecting it.
func (i *Injector) CreateChildTask(parent task.Task, taskType string, payload []byte, priority task.Priority, now time.Time) task.Task {
	return parent.Child(taskType, payload, priority, now)
}
