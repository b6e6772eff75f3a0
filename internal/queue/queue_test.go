package queue

import (
	"context"
	"testing"
	"time"

	"github.com/basket/goclaw-runloop/internal/rlerrors"
	"github.com/basket/goclaw-runloop/internal/task"
)

func TestEnqueueDequeue(t *testing.T) {
	ctx := context.Background()
	q := New(Config{}, nil)

	tk := task.New("t", nil, task.PriorityNormal, task.SourceUser, time.Now())
	if err := q.Enqueue(ctx, tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected len 1, got %d", q.Len())
	}

	got := q.Dequeue()
	if got == nil || got.ID != tk.ID {
		t.Fatalf("expected dequeued task %s, got %v", tk.ID, got)
	}
	if !q.IsEmpty() {
		t.Fatalf("expected empty queue after dequeue")
	}
}

func TestPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	q := New(Config{}, nil)
	now := time.Now()

	low := task.New("low", nil, task.PriorityLow, task.SourceUser, now)
	high := task.New("high", nil, task.PriorityHigh, task.SourceUser, now.Add(time.Millisecond))
	normal := task.New("normal", nil, task.PriorityNormal, task.SourceUser, now.Add(2*time.Millisecond))

	for _, tk := range []task.Task{low, high, normal} {
		if err := q.Enqueue(ctx, tk); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	first := q.Dequeue()
	if first.TaskType != "high" {
		t.Fatalf("expected high first, got %s", first.TaskType)
	}
	second := q.Dequeue()
	if second.TaskType != "normal" {
		t.Fatalf("expected normal second, got %s", second.TaskType)
	}
	third := q.Dequeue()
	if third.TaskType != "low" {
		t.Fatalf("expected low third, got %s", third.TaskType)
	}
}

func TestFIFOTiebreak(t *testing.T) {
	ctx := context.Background()
	q := New(Config{}, nil)
	now := time.Now()

	first := task.New("first", nil, task.PriorityNormal, task.SourceUser, now)
	second := task.New("second", nil, task.PriorityNormal, task.SourceUser, now.Add(time.Millisecond))

	_ = q.Enqueue(ctx, second)
	_ = q.Enqueue(ctx, first)

	got := q.Dequeue()
	if got.TaskType != "first" {
		t.Fatalf("expected FIFO tiebreak to prefer earlier created_at, got %s", got.TaskType)
	}
}

func TestScheduledGating(t *testing.T) {
	ctx := context.Background()
	q := New(Config{}, nil)
	now := time.Now()

	future := task.New("future", nil, task.PriorityCritical, task.SourceUser, now).WithSchedule(now.Add(time.Hour))
	ready := task.New("ready", nil, task.PriorityLow, task.SourceUser, now.Add(time.Millisecond))

	_ = q.Enqueue(ctx, future)
	_ = q.Enqueue(ctx, ready)

	got := q.Dequeue()
	if got == nil || got.TaskType != "ready" {
		t.Fatalf("expected the ready low-priority task ahead of the future critical task, got %v", got)
	}
	if q.Len() != 1 {
		t.Fatalf("expected the future task held back in the heap, got len %d", q.Len())
	}
}

func TestQueueFull(t *testing.T) {
	ctx := context.Background()
	q := New(Config{MaxSize: 1}, nil)

	_ = q.Enqueue(ctx, task.New("a", nil, task.PriorityNormal, task.SourceUser, time.Now()))
	err := q.Enqueue(ctx, task.New("b", nil, task.PriorityNormal, task.SourceUser, time.Now()))
	if err != rlerrors.ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestRetryThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := New(Config{DeadLetterEnabled: true}, nil)

	tk := task.New("flaky", nil, task.PriorityNormal, task.SourceUser, time.Now())
	tk.MaxRetries = 2

	retried, err := q.Retry(ctx, tk, "boom 1")
	if err != nil || !retried {
		t.Fatalf("expected first retry to succeed, got retried=%v err=%v", retried, err)
	}
	tk = *q.Dequeue()

	retried, err = q.Retry(ctx, tk, "boom 2")
	if err != nil || !retried {
		t.Fatalf("expected second retry to succeed, got retried=%v err=%v", retried, err)
	}
	tk = *q.Dequeue()

	retried, err = q.Retry(ctx, tk, "boom 3")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried {
		t.Fatalf("expected retry budget exhaustion to dead-letter the task")
	}
	if !q.IsEmpty() {
		t.Fatalf("expected queue empty after dead-lettering")
	}

	dlq := q.DeadLetterQueue()
	if len(dlq) != 1 || dlq[0].ID != tk.ID {
		t.Fatalf("expected dead-lettered task in DLQ, got %v", dlq)
	}
}

func TestLoadFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tk := task.New("resumed", nil, task.PriorityNormal, task.SourceUser, time.Now())
	_ = store.Save(ctx, tk)

	q := New(Config{}, store)
	if err := q.LoadFromStore(ctx); err != nil {
		t.Fatalf("load from store: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 task loaded, got %d", q.Len())
	}
}
