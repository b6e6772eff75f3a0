// Package workerpool implements the RunLoop's bounded-concurrency task
// executor: a semaphore-gated dispatcher that the kernel hands ready tasks
// to, routing handler failures to retry or the dead-letter queue. Grounded
// on two sources: the permit-then-spawn submit pattern in
// _examples/original_source/crates/autohands-workqueue/src/worker.rs's
// WorkerPool, and the graceful-drain idiom (sync.WaitGroup + timeout select)
// in zkoranges-go-claw's internal/engine.Engine.Drain.
package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/goclaw-runloop/internal/queue"
	"github.com/basket/goclaw-runloop/internal/rlerrors"
	"github.com/basket/goclaw-runloop/internal/task"
)

// Handler executes a single task. Handler implementations classify failures
// by returning rlerrors.NewRetryable/rlerrors.NewFatal-wrapped errors; an
// unwrapped error is treated as retryable by default.
type Handler interface {
	Handle(ctx context.Context, t task.Task) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, t task.Task) error

func (f HandlerFunc) Handle(ctx context.Context, t task.Task) error { return f(ctx, t) }

// Config controls pool sizing and logging.
type Config struct {
	MaxWorkers int
	Logger     *slog.Logger
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Processed uint64
	Failed    uint64
	Available int
}

// Pool is a bounded-concurrency dispatcher satisfying internal/runloop's
// Dispatcher interface. The kernel calls Submit once per ready task it
// dequeues during BeforeSources; Submit acquires a semaphore permit (never
// blocking the caller past ctx's lifetime) and executes the handler on a
// dedicated goroutine.
type Pool struct {
	cfg     Config
	queue   *queue.Queue
	handler Handler
	logger  *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	running atomic.Bool

	processed atomic.Uint64
	failed    atomic.Uint64
}

// New constructs a Pool bound to queue q and handler. A non-positive
// MaxWorkers defaults to 4, mirroring engine.Config's WorkerCount default.
func New(cfg Config, q *queue.Queue, handler Handler) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Pool{
		cfg:     cfg,
		queue:   q,
		handler: handler,
		logger:  cfg.Logger,
		sem:     make(chan struct{}, cfg.MaxWorkers),
	}
	p.running.Store(true)
	return p
}

// Submit dispatches t to a worker goroutine. It blocks until a permit frees
// up or ctx is cancelled, and returns NotRunning once Stop has been called —
// shutdown drains in-flight work but refuses new dispatches, per spec.
func (p *Pool) Submit(ctx context.Context, t task.Task) error {
	if !p.running.Load() {
		return rlerrors.ErrNotRunning
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		p.process(ctx, t)
	}()
	return nil
}

func (p *Pool) process(ctx context.Context, t task.Task) {
	t.Status = task.StatusRunning

	err := p.handler.Handle(ctx, t)
	if err == nil {
		p.processed.Add(1)
		p.logger.Debug("task completed", "task_id", t.ID, "task_type", t.TaskType)
		return
	}

	p.failed.Add(1)

	if rlerrors.IsFatal(err) || errors.Is(err, rlerrors.ErrAborted) {
		if dlqErr := p.queue.MoveToDeadLetter(ctx, t); dlqErr != nil {
			p.logger.Error("move to dead letter failed", "task_id", t.ID, "error", dlqErr)
		}
		return
	}

	retried, rerr := p.queue.Retry(ctx, t, err.Error())
	if rerr != nil {
		p.logger.Error("retry bookkeeping failed", "task_id", t.ID, "error", rerr)
		return
	}
	if retried {
		p.logger.Warn("task retry scheduled", "task_id", t.ID, "retry_count", t.RetryCount+1, "cause", err)
	} else {
		p.logger.Error("task exhausted retry budget, dead-lettered", "task_id", t.ID, "cause", err)
	}
}

// Stop refuses further Submit calls. In-flight tasks keep running; call
// Drain to wait for them.
func (p *Pool) Stop() {
	p.running.Store(false)
}

// Drain waits up to timeout for all in-flight handler goroutines to finish.
func (p *Pool) Drain(timeout time.Duration) {
	p.Stop()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("worker pool drained cleanly")
	case <-time.After(timeout):
		p.logger.Warn("worker pool drain timeout; in-flight tasks left running", "timeout", timeout)
	}
}

// Stats returns a snapshot of processed/failed counters and free permits.
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Available: cap(p.sem) - len(p.sem),
	}
}
