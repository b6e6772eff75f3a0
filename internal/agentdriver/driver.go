// Package agentdriver consumes agent:* task types, invokes a pluggable
// handler, injects follow-up tasks back through the kernel, and tracks
// per-invocation execution contexts. Grounded on
// _examples/original_source/crates/autohands-runloop/src/agent_driver_impl.rs
// (dispatch table, active_contexts/total_tasks_processed counters,
// create_execute_task/create_subtask/create_delayed_task helpers) and on
// zkoranges-go-claw's internal/agent/registry.go for the guarded
// map-of-running-things shape the context table borrows.
package agentdriver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/basket/goclaw-runloop/internal/rlerrors"
	"github.com/basket/goclaw-runloop/internal/shared"
	"github.com/basket/goclaw-runloop/internal/source"
	"github.com/basket/goclaw-runloop/internal/task"
	"github.com/basket/goclaw-runloop/internal/telemetry"
)

// AgentResult is a handler's report of what happened, per spec.md §4.7:
// follow-up tasks to inject, and whether the invocation chain is done.
type AgentResult struct {
	Tasks      []task.Task
	IsComplete bool
}

// Empty is the result for an unrecognized task_type: nothing to inject,
// nothing completed.
func Empty() AgentResult { return AgentResult{} }

// Completed returns a result with no follow-ups that closes out the chain.
// label is for caller-side readability only; it has no effect on behavior.
func Completed(label string) AgentResult {
	return AgentResult{IsComplete: true}
}

// AgentEventHandler is the pluggable contract the driver dispatches to.
// Implementations must check their execution context's abort flag at
// suspension points and return rlerrors.ErrAborted (or a wrapper of it) once
// it trips; the worker pool treats that as terminal, never retried.
type AgentEventHandler interface {
	HandleExecute(ctx context.Context, t task.Task, injector *source.Injector) (AgentResult, error)
	HandleSubtask(ctx context.Context, t task.Task, injector *source.Injector) (AgentResult, error)
	HandleDelayed(ctx context.Context, t task.Task, injector *source.Injector) (AgentResult, error)
}

// NoOpEventHandler completes every invocation immediately without
// injecting follow-ups. It is the Driver's default so a freshly wired
// RunLoop never panics on a nil handler.
type NoOpEventHandler struct{}

func (NoOpEventHandler) HandleExecute(ctx context.Context, t task.Task, _ *source.Injector) (AgentResult, error) {
	slog.Debug("noop handler: execute", "task_id", t.ID)
	return Completed("noop"), nil
}

func (NoOpEventHandler) HandleSubtask(ctx context.Context, t task.Task, _ *source.Injector) (AgentResult, error) {
	slog.Debug("noop handler: subtask", "task_id", t.ID)
	return Completed("noop"), nil
}

func (NoOpEventHandler) HandleDelayed(ctx context.Context, t task.Task, _ *source.Injector) (AgentResult, error) {
	slog.Debug("noop handler: delayed", "task_id", t.ID)
	return Completed("noop"), nil
}

// ExecutionStatus is an execution context's lifecycle state.
type ExecutionStatus string

const (
	StatusActive    ExecutionStatus = "active"
	StatusCompleted ExecutionStatus = "completed"
	StatusAborted   ExecutionStatus = "aborted"
	StatusFailed    ExecutionStatus = "failed"
)

// ExecutionContext tracks one agent:execute invocation chain across its
// subtasks and delayed follow-ups, keyed by correlation_id.
type ExecutionContext struct {
	ID            string
	Agent         string
	CorrelationID string
	StartedAt     time.Time

	mu             sync.Mutex
	status         ExecutionStatus
	tasksProcessed uint64
	aborted        atomic.Bool
}

// Status returns the context's current lifecycle state.
func (c *ExecutionContext) Status() ExecutionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// TasksProcessed returns how many tasks this context has handled.
func (c *ExecutionContext) TasksProcessed() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tasksProcessed
}

// IsAborted reports whether the context's abort flag has tripped. Handlers
// poll this at suspension points per spec.md §4.7.
func (c *ExecutionContext) IsAborted() bool { return c.aborted.Load() }

// Abort trips the context's abort flag. Handlers observe it on their next
// poll and return rlerrors.ErrAborted.
func (c *ExecutionContext) Abort() { c.aborted.Store(true) }

func (c *ExecutionContext) setStatus(s ExecutionStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *ExecutionContext) incrementProcessed() {
	c.mu.Lock()
	c.tasksProcessed++
	c.mu.Unlock()
}

// Config wires a Driver to its handler, the injector it feeds follow-ups
// through, and an optional per-task_type payload validator.
type Config struct {
	// MaxConcurrent bounds how many process_task calls run at once,
	// independent of (and typically smaller than) the worker pool's own
	// limit. Non-positive defaults to 4, mirroring engine.Config's
	// WorkerCount default.
	MaxConcurrent int
	Handler       AgentEventHandler
	Injector      *source.Injector
	Validator     *PayloadValidator
	Logger        *slog.Logger
}

// Driver is the agent task dispatcher described by spec.md §4.7. It
// satisfies internal/workerpool.Handler via Handle, so it can be wired
// directly as a pool's handler.
type Driver struct {
	handler   AgentEventHandler
	injector  *source.Injector
	validator *PayloadValidator
	logger    *slog.Logger

	sem chan struct{}

	running atomic.Bool

	contexts     sync.Map // correlation_id -> *ExecutionContext
	contextCount atomic.Int64

	tasksProcessed atomic.Uint64
}

// New constructs a Driver. The driver starts stopped; call Start before
// handing it to a worker pool.
func New(cfg Config) *Driver {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Handler == nil {
		cfg.Handler = NoOpEventHandler{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Driver{
		handler:   cfg.Handler,
		injector:  cfg.Injector,
		validator: cfg.Validator,
		logger:    cfg.Logger,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start marks the driver running. Handle refuses calls until this is
// called.
func (d *Driver) Start() {
	d.running.Store(true)
	d.logger.Info("agent driver started", "max_concurrent", cap(d.sem))
}

// Stop marks the driver stopped. In-flight Handle calls are not
// interrupted.
func (d *Driver) Stop() {
	d.running.Store(false)
	d.logger.Info("agent driver stopped")
}

// IsRunning reports whether Start has been called without a subsequent
// Stop.
func (d *Driver) IsRunning() bool { return d.running.Load() }

// ActiveContexts returns the number of execution contexts currently
// tracked.
func (d *Driver) ActiveContexts() int { return int(d.contextCount.Load()) }

// TotalTasksProcessed returns the lifetime count of tasks handled.
func (d *Driver) TotalTasksProcessed() uint64 { return d.tasksProcessed.Load() }

// CreateContext starts tracking a new execution chain and returns its
// correlation_id, minting one if none is supplied.
func (d *Driver) CreateContext(agent, correlationID string) string {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx := &ExecutionContext{
		ID:            uuid.NewString(),
		Agent:         agent,
		CorrelationID: correlationID,
		StartedAt:     time.Now(),
		status:        StatusActive,
	}
	if _, loaded := d.contexts.LoadOrStore(correlationID, ctx); !loaded {
		d.contextCount.Add(1)
	}
	return correlationID
}

// GetContext returns the tracked context for correlationID, if any.
func (d *Driver) GetContext(correlationID string) (*ExecutionContext, bool) {
	v, ok := d.contexts.Load(correlationID)
	if !ok {
		return nil, false
	}
	return v.(*ExecutionContext), true
}

// RemoveContext stops tracking correlationID. Safe to call more than once.
func (d *Driver) RemoveContext(correlationID string) {
	if _, loaded := d.contexts.LoadAndDelete(correlationID); loaded {
		d.contextCount.Add(-1)
	}
}

// Handle is process_task from spec.md §4.7: dispatch by task_type prefix,
// inject follow-ups, track the execution context, and report the outcome
// for the worker pool's retry/DLQ classification.
func (d *Driver) Handle(ctx context.Context, t task.Task) error {
	if !d.running.Load() {
		return rlerrors.ErrNotRunning
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.sem }()

	execCtx := d.contextFor(t)
	if execCtx != nil && t.CorrelationID == "" {
		// contextFor minted a correlation_id for this chain; stamp it back
		// onto t so any follow-up a handler builds via t.Child inherits it
		// and the context gets removed once that follow-up completes.
		t.CorrelationID = execCtx.CorrelationID
	}
	defer d.finalize(execCtx)

	ctx = shared.WithTaskID(ctx, t.ID)
	ctx = shared.WithCorrelationID(ctx, t.CorrelationID)
	if execCtx != nil {
		ctx = shared.WithAgentID(ctx, execCtx.Agent)
	}

	result, err := d.dispatch(ctx, t, execCtx)
	d.tasksProcessed.Add(1)
	if execCtx != nil {
		execCtx.incrementProcessed()
	}

	if err != nil {
		d.logger.Error("agent execution failed", append(telemetry.ContextFields(ctx), "task_type", t.TaskType, "error", err)...)
		if execCtx != nil {
			if errors.Is(err, rlerrors.ErrAborted) {
				execCtx.setStatus(StatusAborted)
			} else {
				execCtx.setStatus(StatusFailed)
			}
		}
		return err
	}

	if len(result.Tasks) > 0 {
		d.logger.Debug("injecting follow-up tasks", append(telemetry.ContextFields(ctx), "count", len(result.Tasks))...)
		if d.validator != nil {
			for _, follow := range result.Tasks {
				if verr := d.validator.Validate(follow.TaskType, follow.Payload); verr != nil {
					d.logger.Error("follow-up payload failed schema validation", "task_type", follow.TaskType, "error", verr)
					return rlerrors.NewFatal(verr)
				}
			}
		}
		if d.injector != nil {
			d.injector.InjectBatch(result.Tasks)
		}
	}

	if result.IsComplete {
		d.logger.Info("agent execution completed", telemetry.ContextFields(ctx)...)
		if execCtx != nil {
			execCtx.setStatus(StatusCompleted)
		}
	}

	return nil
}

// contextFor resolves the execution context a task belongs to.
// agent:execute always starts a fresh chain (minting a correlation_id if
// the caller didn't supply one); agent:subtask and agent:delayed join the
// chain named by the task's correlation_id if one is already tracked, and
// run context-less otherwise (e.g. a subtask submitted without its parent
// chain's bookkeeping still executes, it just isn't counted).
func (d *Driver) contextFor(t task.Task) *ExecutionContext {
	if t.TaskType == task.TypeAgentExecute {
		correlationID := t.CorrelationID
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		agent, _ := extractAgentName(t.Payload)
		d.CreateContext(agent, correlationID)
		ec, _ := d.GetContext(correlationID)
		return ec
	}
	if t.CorrelationID == "" {
		return nil
	}
	ec, _ := d.GetContext(t.CorrelationID)
	return ec
}

// finalize removes ec once its chain has actually ended — completed,
// aborted, or failed — regardless of which task in the chain (execute,
// subtask, or delayed) was the one to end it, so no entry leaks even if a
// handler panics or returns an error partway through a multi-task chain.
// recover() turns a handler panic into a removed context and a re-panic
// rather than a silently orphaned entry.
func (d *Driver) finalize(ec *ExecutionContext) {
	r := recover()
	if ec != nil {
		if r != nil {
			ec.setStatus(StatusFailed)
		}
		switch ec.Status() {
		case StatusCompleted, StatusFailed, StatusAborted:
			d.RemoveContext(ec.CorrelationID)
		}
	}
	if r != nil {
		panic(r)
	}
}

func (d *Driver) dispatch(ctx context.Context, t task.Task, execCtx *ExecutionContext) (AgentResult, error) {
	if execCtx != nil && execCtx.IsAborted() {
		return AgentResult{}, rlerrors.ErrAborted
	}

	switch t.TaskType {
	case task.TypeAgentExecute:
		d.logger.Info("agent execution started", telemetry.ContextFields(ctx)...)
		return d.handler.HandleExecute(ctx, t, d.injector)
	case task.TypeAgentSubtask:
		d.logger.Debug("agent subtask started", telemetry.ContextFields(ctx)...)
		return d.handler.HandleSubtask(ctx, t, d.injector)
	case task.TypeAgentDelayed:
		d.logger.Debug("agent delayed task", telemetry.ContextFields(ctx)...)
		return d.handler.HandleDelayed(ctx, t, d.injector)
	default:
		d.logger.Debug("unknown task type", "task_type", t.TaskType)
		return Empty(), nil
	}
}

type executePayload struct {
	Agent  string `json:"agent"`
	Prompt string `json:"prompt"`
}

func extractAgentName(payload []byte) (string, bool) {
	if len(payload) == 0 {
		return "", false
	}
	var p executePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", false
	}
	return p.Agent, p.Agent != ""
}

// CreateExecuteTask builds an agent:execute task starting a new invocation
// chain.
func (d *Driver) CreateExecuteTask(agent, prompt string, now time.Time) (task.Task, error) {
	payload, err := json.Marshal(executePayload{Agent: agent, Prompt: prompt})
	if err != nil {
		return task.Task{}, err
	}
	return task.New(task.TypeAgentExecute, payload, task.PriorityNormal, task.SourceUser, now), nil
}

type subtaskPayload struct {
	Task string `json:"task"`
}

// CreateSubtask builds an agent:subtask task inheriting parent's
// correlation_id, per the correlation propagation invariant.
func (d *Driver) CreateSubtask(parent task.Task, subtask string, now time.Time) (task.Task, error) {
	payload, err := json.Marshal(subtaskPayload{Task: subtask})
	if err != nil {
		return task.Task{}, err
	}
	return parent.Child(task.TypeAgentSubtask, payload, task.PriorityNormal, now), nil
}

// CreateDelayedTask builds an agent:delayed task scheduled delay after now,
// inheriting parent's correlation_id.
func (d *Driver) CreateDelayedTask(parent task.Task, subtask string, delay time.Duration, now time.Time) (task.Task, error) {
	payload, err := json.Marshal(subtaskPayload{Task: subtask})
	if err != nil {
		return task.Task{}, err
	}
	child := parent.Child(task.TypeAgentDelayed, payload, task.PriorityNormal, now)
	return child.WithSchedule(now.Add(delay)), nil
}
