package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basket/goclaw-runloop/internal/queue"
	"github.com/basket/goclaw-runloop/internal/rlerrors"
	"github.com/basket/goclaw-runloop/internal/task"
)

func TestSubmit_SuccessIncrementsProcessed(t *testing.T) {
	q := queue.New(queue.Config{}, nil)
	var called atomic.Int32
	p := New(Config{MaxWorkers: 2}, q, HandlerFunc(func(ctx context.Context, tk task.Task) error {
		called.Add(1)
		return nil
	}))

	tk := task.New("agent:execute", nil, task.PriorityNormal, task.SourceUser, time.Now())
	if err := p.Submit(context.Background(), tk); err != nil {
		t.Fatalf("submit: %v", err)
	}
	p.Drain(time.Second)

	if called.Load() != 1 {
		t.Fatalf("expected handler called once, got %d", called.Load())
	}
	if p.Stats().Processed != 1 {
		t.Fatalf("expected 1 processed, got %d", p.Stats().Processed)
	}
}

func TestSubmit_RetryableErrorReEnqueues(t *testing.T) {
	q := queue.New(queue.Config{DeadLetterEnabled: true}, nil)
	p := New(Config{MaxWorkers: 1}, q, HandlerFunc(func(ctx context.Context, tk task.Task) error {
		return errors.New("boom")
	}))

	tk := task.New("agent:execute", nil, task.PriorityNormal, task.SourceUser, time.Now())
	tk.MaxRetries = 3
	if err := q.Enqueue(context.Background(), tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	dequeued := q.Dequeue()
	if dequeued == nil {
		t.Fatalf("expected task to dequeue")
	}

	if err := p.Submit(context.Background(), *dequeued); err != nil {
		t.Fatalf("submit: %v", err)
	}
	p.Drain(time.Second)

	if p.Stats().Failed != 1 {
		t.Fatalf("expected 1 failure recorded, got %d", p.Stats().Failed)
	}
	if q.Len() != 1 {
		t.Fatalf("expected task re-enqueued after retryable failure, queue len = %d", q.Len())
	}
}

func TestSubmit_FatalErrorGoesToDeadLetter(t *testing.T) {
	q := queue.New(queue.Config{DeadLetterEnabled: true}, nil)
	p := New(Config{MaxWorkers: 1}, q, HandlerFunc(func(ctx context.Context, tk task.Task) error {
		return rlerrors.NewFatal(errors.New("unrecoverable"))
	}))

	tk := task.New("agent:execute", nil, task.PriorityNormal, task.SourceUser, time.Now())
	if err := p.Submit(context.Background(), tk); err != nil {
		t.Fatalf("submit: %v", err)
	}
	p.Drain(time.Second)

	if len(q.DeadLetterQueue()) != 1 {
		t.Fatalf("expected fatal error to route directly to dead letter")
	}
}

func TestSubmit_AbortedErrorGoesToDeadLetterWithoutRetry(t *testing.T) {
	q := queue.New(queue.Config{DeadLetterEnabled: true}, nil)
	p := New(Config{MaxWorkers: 1}, q, HandlerFunc(func(ctx context.Context, tk task.Task) error {
		return rlerrors.ErrAborted
	}))

	tk := task.New("agent:execute", nil, task.PriorityNormal, task.SourceUser, time.Now())
	if err := p.Submit(context.Background(), tk); err != nil {
		t.Fatalf("submit: %v", err)
	}
	p.Drain(time.Second)

	if len(q.DeadLetterQueue()) != 1 {
		t.Fatalf("expected aborted task to be treated as terminal")
	}
}

func TestStop_RejectsFurtherSubmits(t *testing.T) {
	q := queue.New(queue.Config{}, nil)
	p := New(Config{MaxWorkers: 1}, q, HandlerFunc(func(ctx context.Context, tk task.Task) error {
		return nil
	}))
	p.Stop()

	err := p.Submit(context.Background(), task.New("agent:execute", nil, task.PriorityNormal, task.SourceUser, time.Now()))
	if !errors.Is(err, rlerrors.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after Stop, got %v", err)
	}
}

func TestSubmit_BoundedConcurrency(t *testing.T) {
	q := queue.New(queue.Config{}, nil)
	release := make(chan struct{})
	var inFlight atomic.Int32
	var maxInFlight atomic.Int32

	p := New(Config{MaxWorkers: 2}, q, HandlerFunc(func(ctx context.Context, tk task.Task) error {
		n := inFlight.Add(1)
		for {
			old := maxInFlight.Load()
			if n <= old || maxInFlight.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return nil
	}))

	var submitErr atomic.Value
	for i := 0; i < 5; i++ {
		go func() {
			tk := task.New("agent:execute", nil, task.PriorityNormal, task.SourceUser, time.Now())
			if err := p.Submit(context.Background(), tk); err != nil {
				submitErr.Store(err)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	if err, ok := submitErr.Load().(error); ok {
		t.Fatalf("unexpected submit error: %v", err)
	}
	if maxInFlight.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent handlers, saw %d", maxInFlight.Load())
	}
	close(release)
	p.Drain(time.Second)

	if p.Stats().Processed != 5 {
		t.Fatalf("expected all 5 tasks processed, got %d", p.Stats().Processed)
	}
}
