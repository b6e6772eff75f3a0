package agentdriver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/basket/goclaw-runloop/internal/rlerrors"
	"github.com/basket/goclaw-runloop/internal/source"
	"github.com/basket/goclaw-runloop/internal/task"
)

type fakeWaker struct{ calls int }

func (w *fakeWaker) Wakeup(reason string) { w.calls++ }

type scriptedHandler struct {
	executeResult AgentResult
	executeErr    error
	subtaskResult AgentResult
	subtaskErr    error
	delayedResult AgentResult
	delayedErr    error
}

func (h *scriptedHandler) HandleExecute(ctx context.Context, t task.Task, inj *source.Injector) (AgentResult, error) {
	return h.executeResult, h.executeErr
}

func (h *scriptedHandler) HandleSubtask(ctx context.Context, t task.Task, inj *source.Injector) (AgentResult, error) {
	return h.subtaskResult, h.subtaskErr
}

func (h *scriptedHandler) HandleDelayed(ctx context.Context, t task.Task, inj *source.Injector) (AgentResult, error) {
	return h.delayedResult, h.delayedErr
}

func newTestDriver(h AgentEventHandler) (*Driver, *source.AgentSource0, *fakeWaker) {
	src := source.NewAgentSource0("agent0")
	waker := &fakeWaker{}
	inj := source.NewInjector(src, waker)
	d := New(Config{Handler: h, Injector: inj})
	d.Start()
	return d, src, waker
}

func TestHandle_UnknownTaskTypeIsNoOp(t *testing.T) {
	d, _, _ := newTestDriver(NoOpEventHandler{})
	tk := task.New("mystery:thing", nil, task.PriorityNormal, task.SourceUser, time.Now())
	if err := d.Handle(context.Background(), tk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.TotalTasksProcessed() != 1 {
		t.Fatalf("expected counter to increment even for unknown types, got %d", d.TotalTasksProcessed())
	}
}

func TestHandle_RefusesWhenNotStarted(t *testing.T) {
	d := New(Config{})
	err := d.Handle(context.Background(), task.New(task.TypeAgentExecute, nil, task.PriorityNormal, task.SourceUser, time.Now()))
	if !errors.Is(err, rlerrors.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestHandle_ExecuteCreatesContextAndInjectsFollowUps(t *testing.T) {
	follow := task.New(task.TypeAgentSubtask, nil, task.PriorityNormal, task.SourceAgent, time.Now())
	h := &scriptedHandler{executeResult: AgentResult{Tasks: []task.Task{follow}, IsComplete: false}}
	d, src, waker := newTestDriver(h)

	execTask, err := d.CreateExecuteTask("researcher", "find bugs", time.Now())
	if err != nil {
		t.Fatalf("create execute task: %v", err)
	}
	if err := d.Handle(context.Background(), execTask); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if d.ActiveContexts() != 1 {
		t.Fatalf("expected one active context since IsComplete=false, got %d", d.ActiveContexts())
	}
	if src.PendingCount() != 1 {
		t.Fatalf("expected the follow-up task injected, pending=%d", src.PendingCount())
	}
	if waker.calls == 0 {
		t.Fatalf("expected the injector to wake the run loop")
	}
}

func TestHandle_CompletionRemovesContext(t *testing.T) {
	h := &scriptedHandler{executeResult: Completed("done")}
	d, _, _ := newTestDriver(h)

	execTask, err := d.CreateExecuteTask("researcher", "find bugs", time.Now())
	if err != nil {
		t.Fatalf("create execute task: %v", err)
	}
	if err := d.Handle(context.Background(), execTask); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if d.ActiveContexts() != 0 {
		t.Fatalf("expected context removed on completion, got %d active", d.ActiveContexts())
	}
}

func TestHandle_SubtaskJoinsParentChainAndIncrementsCount(t *testing.T) {
	h := &scriptedHandler{
		executeResult: AgentResult{},
		subtaskResult: AgentResult{},
	}
	d, _, _ := newTestDriver(h)

	execTask, _ := d.CreateExecuteTask("researcher", "find bugs", time.Now())
	execTask.CorrelationID = "chain-1"
	if err := d.Handle(context.Background(), execTask); err != nil {
		t.Fatalf("handle execute: %v", err)
	}

	ec, ok := d.GetContext("chain-1")
	if !ok {
		t.Fatalf("expected a tracked context keyed by the supplied correlation_id")
	}

	// CreateSubtask inherits the parent task's correlation_id via Task.Child.
	subtask, err := d.CreateSubtask(execTask, "continue", time.Now())
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	if err := d.Handle(context.Background(), subtask); err != nil {
		t.Fatalf("handle subtask: %v", err)
	}
	if ec.TasksProcessed() != 2 {
		t.Fatalf("expected 2 tasks processed on the shared context, got %d", ec.TasksProcessed())
	}
}

func TestHandle_AbortedContextMarksStatusAndRemoves(t *testing.T) {
	h := &scriptedHandler{executeErr: rlerrors.ErrAborted}
	d, _, _ := newTestDriver(h)

	execTask, _ := d.CreateExecuteTask("researcher", "find bugs", time.Now())
	err := d.Handle(context.Background(), execTask)
	if !errors.Is(err, rlerrors.ErrAborted) {
		t.Fatalf("expected aborted error to propagate, got %v", err)
	}
	if d.ActiveContexts() != 0 {
		t.Fatalf("expected context removed after abort, got %d", d.ActiveContexts())
	}
}

func TestHandle_FailurePropagatesAndRemovesContext(t *testing.T) {
	h := &scriptedHandler{executeErr: errors.New("boom")}
	d, _, _ := newTestDriver(h)

	execTask, _ := d.CreateExecuteTask("researcher", "find bugs", time.Now())
	err := d.Handle(context.Background(), execTask)
	if err == nil {
		t.Fatalf("expected error to propagate for worker pool retry classification")
	}
	if d.ActiveContexts() != 0 {
		t.Fatalf("expected failed context cleaned up, got %d", d.ActiveContexts())
	}
}

func TestCreateDelayedTask_SetsFutureSchedule(t *testing.T) {
	d, _, _ := newTestDriver(NoOpEventHandler{})
	parent := task.New(task.TypeAgentExecute, nil, task.PriorityNormal, task.SourceUser, time.Now())

	now := time.Now()
	delayed, err := d.CreateDelayedTask(parent, "check back later", time.Minute, now)
	if err != nil {
		t.Fatalf("create delayed task: %v", err)
	}
	if delayed.ScheduledAt == nil {
		t.Fatalf("expected a scheduled_at to be set")
	}
	if !delayed.ScheduledAt.After(now) {
		t.Fatalf("expected scheduled_at in the future")
	}
	if delayed.ParentID != parent.ID {
		t.Fatalf("expected parent_id propagated")
	}
}
