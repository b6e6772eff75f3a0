// Package queue implements the priority task queue: a max-heap over
// (priority, created_at) ordering, scheduled-time gating on dequeue, a
// pluggable durability Store, and a dead-letter queue for tasks that
// exhaust their retry budget.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/basket/goclaw-runloop/internal/rlerrors"
	"github.com/basket/goclaw-runloop/internal/task"
)

// Config controls queue capacity and dead-letter behavior.
type Config struct {
	// MaxSize caps the number of tasks held in the heap. Zero means unbounded.
	MaxSize int
	// DeadLetterEnabled controls whether MoveToDeadLetter actually records
	// the task; when false the task is simply dropped.
	DeadLetterEnabled bool
}

// Queue is a priority task queue backed by a pluggable Store.
type Queue struct {
	cfg   Config
	store Store

	mu         sync.Mutex
	heap       priorityHeap
	deadLetter []task.Task
}

// New constructs a Queue. A nil store defaults to an in-memory Store.
func New(cfg Config, store Store) *Queue {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Queue{
		cfg:   cfg,
		store: store,
		heap:  priorityHeap{},
	}
}

// Enqueue durably saves t and pushes it onto the heap. Returns
// rlerrors.ErrQueueFull if the queue is at capacity, or a wrapped
// rlerrors.ErrStoreError if the store write fails.
func (q *Queue) Enqueue(ctx context.Context, t task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.MaxSize > 0 && len(q.heap) >= q.cfg.MaxSize {
		return rlerrors.ErrQueueFull
	}

	if err := q.store.Save(ctx, t); err != nil {
		return fmt.Errorf("%w: %v", rlerrors.ErrStoreError, err)
	}

	heap.Push(&q.heap, t)
	return nil
}

// Dequeue pops the highest-priority ready task. Tasks whose ScheduledAt is
// still in the future are popped and held, then pushed back before Dequeue
// returns, so a far-future task never blocks a ready one behind it in the
// heap's internal ordering.
func (q *Queue) Dequeue() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var held []task.Task
	var result *task.Task

	for q.heap.Len() > 0 {
		t := heap.Pop(&q.heap).(task.Task)
		if t.IsReady(now) {
			result = &t
			break
		}
		held = append(held, t)
	}

	for _, t := range held {
		heap.Push(&q.heap, t)
	}

	return result
}

// Len returns the number of tasks currently held in the heap (ready or not).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// IsEmpty reports whether the heap holds no tasks.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Retry increments t's retry count and re-enqueues it as Pending, or routes
// it to the dead-letter queue once its retry budget is exhausted. The bool
// return reports whether the task was retried (true) or dead-lettered
// (false).
func (q *Queue) Retry(ctx context.Context, t task.Task, cause string) (bool, error) {
	t.RetryCount++
	t.LastError = cause

	if t.ExceedsRetryBudget() {
		if err := q.MoveToDeadLetter(ctx, t); err != nil {
			return false, err
		}
		return false, nil
	}

	t.Status = task.StatusPending
	if err := q.store.Update(ctx, t); err != nil {
		return false, fmt.Errorf("%w: %v", rlerrors.ErrStoreError, err)
	}

	q.mu.Lock()
	heap.Push(&q.heap, t)
	q.mu.Unlock()

	return true, nil
}

// MoveToDeadLetter marks t DeadLetter in the store and, if dead-lettering
// is enabled, appends it to the in-memory DLQ.
func (q *Queue) MoveToDeadLetter(ctx context.Context, t task.Task) error {
	t.Status = task.StatusDeadLetter
	if err := q.store.Update(ctx, t); err != nil {
		return fmt.Errorf("%w: %v", rlerrors.ErrStoreError, err)
	}

	if !q.cfg.DeadLetterEnabled {
		return nil
	}

	q.mu.Lock()
	q.deadLetter = append(q.deadLetter, t)
	q.mu.Unlock()
	return nil
}

// DeadLetterQueue returns a snapshot of the dead-lettered tasks.
func (q *Queue) DeadLetterQueue() []task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]task.Task, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}

// LoadFromStore repopulates the heap from the store's pending tasks. Used
// at startup to resume a queue backed by a durable Store.
func (q *Queue) LoadFromStore(ctx context.Context) error {
	tasks, err := q.store.LoadPending(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", rlerrors.ErrStoreError, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range tasks {
		heap.Push(&q.heap, t)
	}
	return nil
}
