// Package spawner tracks detached async work that is not a task — per
// spec.md §4.8's own example, a per-connection WebSocket reader. Each spawn
// yields a Handle carrying a unique id; the spawner tracks
// {running, completed, cancelled, failed} counts and cancellation tokens for
// every cancellable spawn. Grounded on
// _examples/original_source/crates/autohands-runloop/src/spawner_types.rs
// (TaskInfo/TaskState/SpawnerInner/SpawnerMetrics/SpawnerStateProvider), with
// DashMap's concurrent-map role filled by sync.Map.
package spawner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrStopping is returned by Spawn once the configured StateProvider
// reports the host RunLoop is stopping.
var ErrStopping = errors.New("spawner refusing new work: runloop is stopping")

// TaskState is a spawn's lifecycle state.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskCancelled TaskState = "cancelled"
	TaskFailed    TaskState = "failed"
)

// TaskInfo is a spawn's observability record.
type TaskInfo struct {
	ID                  string
	Name                string
	CorrelationID       string
	ParentCorrelationID string
	State               TaskState
	SpawnedAt           time.Time
	Cancellable         bool
}

// StateProvider lets the spawner check host lifecycle state (to refuse new
// spawns while stopping) without importing internal/runloop — the same
// "without circular reference" rationale the Rust SpawnerStateProvider
// trait states directly in its doc comment.
type StateProvider interface {
	IsStopping() bool
}

type alwaysRunning struct{}

func (alwaysRunning) IsStopping() bool { return false }

// Metrics is a point-in-time snapshot of spawn activity.
type Metrics struct {
	TotalSpawned   uint64
	TotalCompleted uint64
	TotalCancelled uint64
	TotalFailed    uint64
	ActiveTasks    int
}

// Config controls a Spawner's lifecycle gating and restart-budget window.
type Config struct {
	StateProvider StateProvider
	// RestartWindow and RestartBudget bound how many times RecordRestart
	// may succeed within a sliding window, resolving spec.md §9's Open
	// Question on the restart-window counter's shape. Defaults: 1 minute,
	// 5 restarts.
	RestartWindow time.Duration
	RestartBudget int
	Logger        *slog.Logger
}

// Handle is returned by Spawn. Dropping it does not cancel the underlying
// work; only Abort does.
type Handle struct {
	ID string

	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	spawner *Spawner
}

// Abort cancels the spawn (a no-op if it was spawned non-cancellable) and
// marks it cancelled regardless of whether the work ever observes ctx.
func (h *Handle) Abort() {
	if h.cancel != nil {
		h.cancel()
	}
	h.spawner.markCancelled(h.ID)
}

// IsFinished reports whether the spawned work has returned.
func (h *Handle) IsFinished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the spawn finishes and returns its error, if any.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Spawner is a bounded cancel-group of detached async work.
type Spawner struct {
	cfg    Config
	logger *slog.Logger

	tasks     sync.Map // id -> *TaskInfo
	cancels   sync.Map // id -> context.CancelFunc
	taskCount atomic.Int64

	totalSpawned   atomic.Uint64
	totalCompleted atomic.Uint64
	totalCancelled atomic.Uint64
	totalFailed    atomic.Uint64

	restartMu sync.Mutex
	restarts  []time.Time
}

// New constructs a Spawner. A nil StateProvider never refuses spawns.
func New(cfg Config) *Spawner {
	if cfg.StateProvider == nil {
		cfg.StateProvider = alwaysRunning{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = time.Minute
	}
	if cfg.RestartBudget <= 0 {
		cfg.RestartBudget = 5
	}
	return &Spawner{cfg: cfg, logger: cfg.Logger}
}

// Spawn runs fn on a dedicated goroutine, tracking it under name and the
// given correlation lineage. If cancellable, fn receives a context derived
// from ctx that Abort and CancelAll can cancel independently of ctx's own
// lifetime.
func (s *Spawner) Spawn(ctx context.Context, name, correlationID, parentCorrelationID string, cancellable bool, fn func(ctx context.Context) error) (*Handle, error) {
	if s.cfg.StateProvider.IsStopping() {
		return nil, ErrStopping
	}

	id := uuid.NewString()
	info := &TaskInfo{
		ID:                  id,
		Name:                name,
		CorrelationID:       correlationID,
		ParentCorrelationID: parentCorrelationID,
		State:               TaskRunning,
		SpawnedAt:           time.Now(),
		Cancellable:         cancellable,
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cancellable {
		runCtx, cancel = context.WithCancel(ctx)
		s.cancels.Store(id, cancel)
	}

	s.tasks.Store(id, info)
	s.taskCount.Add(1)
	s.totalSpawned.Add(1)

	h := &Handle{ID: id, cancel: cancel, done: make(chan struct{}), spawner: s}
	go func() {
		defer close(h.done)
		err := fn(runCtx)
		h.err = err

		if err == nil {
			s.markCompleted(id)
			return
		}
		if cancellable && errors.Is(runCtx.Err(), context.Canceled) {
			s.markCancelled(id)
			return
		}
		s.markFailed(id)
		s.logger.Error("spawned task failed", "task_id", id, "name", name, "error", err)
	}()

	return h, nil
}

func (s *Spawner) finish(id string, counter *atomic.Uint64) {
	if _, loaded := s.tasks.LoadAndDelete(id); !loaded {
		return
	}
	s.taskCount.Add(-1)
	counter.Add(1)
	s.cancels.Delete(id)
}

func (s *Spawner) markCompleted(id string) { s.finish(id, &s.totalCompleted) }
func (s *Spawner) markFailed(id string)    { s.finish(id, &s.totalFailed) }
func (s *Spawner) markCancelled(id string) { s.finish(id, &s.totalCancelled) }

// CancelTask cancels a single tracked, cancellable spawn by id. Reports
// whether it found one to cancel.
func (s *Spawner) CancelTask(id string) bool {
	v, ok := s.cancels.Load(id)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	s.markCancelled(id)
	return true
}

// CancelAll cancels every tracked cancellable spawn and clears the token
// map, per spec.md §4.8. It returns how many were cancelled.
func (s *Spawner) CancelAll() int {
	var ids []string
	s.cancels.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})

	for _, id := range ids {
		s.CancelTask(id)
	}
	if len(ids) > 0 {
		s.logger.Info("cancelled all cancellable tasks", "count", len(ids))
	}
	return len(ids)
}

// ActiveTasks returns a snapshot of every currently tracked spawn.
func (s *Spawner) ActiveTasks() []TaskInfo {
	var out []TaskInfo
	s.tasks.Range(func(_, v any) bool {
		out = append(out, *v.(*TaskInfo))
		return true
	})
	return out
}

// Metrics returns a snapshot of spawn counters.
func (s *Spawner) Metrics() Metrics {
	return Metrics{
		TotalSpawned:   s.totalSpawned.Load(),
		TotalCompleted: s.totalCompleted.Load(),
		TotalCancelled: s.totalCancelled.Load(),
		TotalFailed:    s.totalFailed.Load(),
		ActiveTasks:    int(s.taskCount.Load()),
	}
}

// RecordRestart records a restart attempt at now and reports whether it
// falls within the configured sliding window's budget. Entries older than
// RestartWindow are evicted before comparing against RestartBudget,
// generalizing internal/engine/failover.go's CircuitBreaker
// failures/lastFailure pair to a ring of timestamps.
func (s *Spawner) RecordRestart(now time.Time) bool {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	cutoff := now.Add(-s.cfg.RestartWindow)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = kept

	if len(s.restarts) >= s.cfg.RestartBudget {
		return false
	}
	s.restarts = append(s.restarts, now)
	return true
}
