// Package runloop implements the RunLoop kernel: the cooperative,
// CFRunLoop-inspired event loop that sequences phases, drains Source0/
// Source1 input into the task queue, fires due timers, and notifies
// phase-subscribed observers. It owns the sources, timers, and observers by
// shared ownership with interior lock-protected registries, mirroring
// zkoranges-go-claw's internal/engine.Engine leaf-lock discipline
// (cancelMu sync.RWMutex guarding a map).
package runloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/goclaw-runloop/internal/observer"
	"github.com/basket/goclaw-runloop/internal/queue"
	"github.com/basket/goclaw-runloop/internal/rlerrors"
	"github.com/basket/goclaw-runloop/internal/rlmode"
	"github.com/basket/goclaw-runloop/internal/source"
	"github.com/basket/goclaw-runloop/internal/task"
)

// Dispatcher hands a ready task off for execution. internal/workerpool.Pool
// implements this; kept as an interface here so runloop does not import
// workerpool (the pool depends on the queue, not the kernel).
type Dispatcher interface {
	Submit(ctx context.Context, t task.Task) error
}

// Metrics receives phase and queue-depth instrumentation. Implemented by
// internal/otelinstr against go.opentelemetry.io/otel/metric; nil is a
// valid no-op.
type Metrics interface {
	RecordPhase(phase rlmode.Phase, dur time.Duration)
	RecordQueueDepth(n int)
}

// Config configures a RunLoop at construction.
type Config struct {
	Queue      *queue.Queue
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Metrics    Metrics
	Observers  *observer.Registry
}

// RunLoop is the kernel. Zero value is not usable; construct with New.
type RunLoop struct {
	queue      *queue.Queue
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    Metrics
	observers  *observer.Registry

	state atomic.Int32

	mu       sync.RWMutex
	seq      int64
	sources0 map[string]*source0Entry
	sources1 map[string]*source1Entry
	timers   map[string]*timerEntry

	s1mu     sync.Mutex
	s1Pending []task.Task

	wakeCh   chan string
	stopCh   chan struct{}
	stopOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a RunLoop in state Created. A nil Queue defaults to an
// in-memory-backed queue.Queue; a nil Dispatcher means ready tasks are
// dequeued but never submitted (useful for tests exercising the source/timer
// plumbing in isolation).
func New(cfg Config) *RunLoop {
	if cfg.Queue == nil {
		cfg.Queue = queue.New(queue.Config{}, nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observers == nil {
		cfg.Observers = observer.NewRegistry(cfg.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &RunLoop{
		queue:      cfg.Queue,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		observers:  cfg.Observers,
		sources0:   make(map[string]*source0Entry),
		sources1:   make(map[string]*source1Entry),
		timers:     make(map[string]*timerEntry),
		wakeCh:     make(chan string, 1),
		stopCh:     make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	r.state.Store(int32(StateCreated))
	return r
}

// State returns the current lifecycle state.
func (r *RunLoop) State() State { return State(r.state.Load()) }

// Observers exposes the global observer registry for callers that want to
// register without going through AddObserver's id/dup-checking, e.g.
// internal/observer.HealthObserver.AsObserver results.
func (r *RunLoop) Observers() *observer.Registry { return r.observers }

// Wakeup signals a waiting cycle to resume immediately. It is edge-triggered
// and coalescing: multiple wakeups before the loop observes any of them
// collapse into a single resumption, satisfying the "wakeup cannot be lost"
// invariant even if the loop is mid-transition into sleep (the channel send
// never blocks, and a pending send is consumed exactly once per wait).
func (r *RunLoop) Wakeup(reason string) {
	select {
	case r.wakeCh <- reason:
	default:
	}
}

// Stop requests the loop to leave at the next phase boundary. Idempotent.
func (r *RunLoop) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.cancel()
	})
}

func (r *RunLoop) stopRequested() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// InjectTask enqueues t directly, bypassing the Source0 mechanism, and wakes
// the loop. Returns NotRunning if the loop has not yet entered Running or
// Waiting.
func (r *RunLoop) InjectTask(ctx context.Context, t task.Task) error {
	switch r.State() {
	case StateRunning, StateWaiting:
	default:
		return rlerrors.ErrNotRunning
	}
	if err := r.enqueue(ctx, t); err != nil {
		return err
	}
	r.Wakeup("inject_task")
	return nil
}

// PendingTaskCount returns the number of tasks currently held in the queue.
func (r *RunLoop) PendingTaskCount() int {
	return r.queue.Len()
}

// AddSource0 registers src under modes (Common expands to
// {Default, AgentProcessing}; an empty modes list defaults to {Default}).
func (r *RunLoop) AddSource0(src source.Source0, modes ...rlmode.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources0[src.ID()]; exists {
		return fmt.Errorf("%w: source0 %q already registered", rlerrors.ErrInvalidState, src.ID())
	}
	r.seq++
	r.sources0[src.ID()] = &source0Entry{src: src, modes: expandModes(modes), seq: r.seq}
	return nil
}

// AddSource1 registers recv, starting a forwarding goroutine that feeds its
// Events() channel into the kernel's internal pending buffer and wakes the
// loop on each delivery. The forwarder exits when recv's channel closes or
// the RunLoop is stopped.
func (r *RunLoop) AddSource1(recv source.Source1, modes ...rlmode.Mode) error {
	r.mu.Lock()
	if _, exists := r.sources1[recv.ID()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: source1 %q already registered", rlerrors.ErrInvalidState, recv.ID())
	}
	r.seq++
	effectiveModes := modes
	if len(effectiveModes) == 0 {
		effectiveModes = recv.Modes()
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.sources1[recv.ID()] = &source1Entry{src: recv, modes: expandModes(effectiveModes), seq: r.seq, cancel: cancel}
	r.mu.Unlock()

	go r.forwardSource1(ctx, recv)
	return nil
}

func (r *RunLoop) forwardSource1(ctx context.Context, recv source.Source1) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-recv.Events():
			if !ok {
				return
			}
			r.s1mu.Lock()
			r.s1Pending = append(r.s1Pending, t)
			r.s1mu.Unlock()
			r.Wakeup("source1:" + recv.ID())
		}
	}
}

// AddTimer registers timer under modes, with the same Common-expansion and
// default-to-Default behavior as AddSource0.
func (r *RunLoop) AddTimer(timer Timer, modes ...rlmode.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.timers[timer.ID()]; exists {
		return fmt.Errorf("%w: timer %q already registered", rlerrors.ErrInvalidState, timer.ID())
	}
	r.seq++
	r.timers[timer.ID()] = &timerEntry{timer: timer, modes: expandModes(modes), seq: r.seq}
	return nil
}

// AddObserver registers obs under id. Observers are global: spec's external
// interface omits a modes parameter for add_observer (unlike add_source0/
// add_source1/add_timer), so this kernel treats Observer registration as
// mode-independent, firing for every phase regardless of the active mode.
func (r *RunLoop) AddObserver(id string, obs observer.Observer) error {
	obs.ID = id
	if !r.observers.Add(obs) {
		return fmt.Errorf("%w: observer %q", rlerrors.ErrAlreadyRegistered, id)
	}
	return nil
}

func (r *RunLoop) enqueue(ctx context.Context, t task.Task) error {
	err := r.queue.Enqueue(ctx, t)
	if err == nil && r.metrics != nil {
		r.metrics.RecordQueueDepth(r.queue.Len())
	}
	return err
}

func (r *RunLoop) notify(phase rlmode.Phase) {
	start := time.Now()
	r.observers.Notify(phase)
	if r.metrics != nil {
		r.metrics.RecordPhase(phase, time.Since(start))
	}
}
