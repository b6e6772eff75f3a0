package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/basket/goclaw-runloop/internal/rlmode"
	"github.com/basket/goclaw-runloop/internal/task"
)

// JobDropSource0 watches a file-backed store's jobs/ directory for
// externally-dropped task JSON and signals the RunLoop when a new or
// modified file appears. Grounded on the fsnotify.NewWatcher /
// event-filtering / buffered-channel pattern in
// zkoranges-go-claw's internal/config/watcher.go.
type JobDropSource0 struct {
	id      string
	dir     string
	logger  *slog.Logger
	modes   []rlmode.Mode
	waker   Waker

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending []string // file paths awaiting parse, deduplicated by set below
	seen    map[string]bool

	signaled  atomic.Bool
	cancelled atomic.Bool

	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// NewJobDropSource0 watches dir for task JSON files. Callers must call Start
// before the source will ever become signaled.
func NewJobDropSource0(id, dir string, w Waker, logger *slog.Logger) *JobDropSource0 {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobDropSource0{
		id:     id,
		dir:    dir,
		logger: logger,
		modes:  []rlmode.Mode{rlmode.Default},
		waker:  w,
		seen:   make(map[string]bool),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins watching the directory. It returns once the watcher is armed;
// the dispatch loop runs in a background goroutine until ctx is cancelled or
// Cancel is called.
func (j *JobDropSource0) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		fsw.Close()
		return err
	}
	if err := fsw.Add(j.dir); err != nil {
		fsw.Close()
		return err
	}
	j.watcher = fsw

	go j.loop(ctx)
	return nil
}

func (j *JobDropSource0) loop(ctx context.Context) {
	defer close(j.done)
	defer j.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case ev, ok := <-j.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			j.mu.Lock()
			if !j.seen[ev.Name] {
				j.seen[ev.Name] = true
				j.pending = append(j.pending, ev.Name)
			}
			j.mu.Unlock()

			j.Signal()
			if j.waker != nil {
				j.waker.Wakeup("job_drop:file_changed")
			}
			j.logger.Debug("job drop detected", "path", ev.Name, "op", ev.Op.String())
		case err, ok := <-j.watcher.Errors:
			if !ok {
				return
			}
			j.logger.Error("job drop watcher error", "error", err)
		}
	}
}

func (j *JobDropSource0) ID() string { return j.id }

func (j *JobDropSource0) IsSignaled() bool { return j.signaled.Load() }

func (j *JobDropSource0) Signal() { j.signaled.Store(true) }

func (j *JobDropSource0) ClearSignal() { j.signaled.Store(false) }

// Perform reads and parses every pending file into a Task. A file that fails
// to parse is logged and skipped rather than failing the whole batch.
func (j *JobDropSource0) Perform(ctx context.Context) ([]task.Task, error) {
	j.mu.Lock()
	paths := j.pending
	j.pending = nil
	for _, p := range paths {
		delete(j.seen, p)
	}
	j.mu.Unlock()

	j.ClearSignal()

	var tasks []task.Task
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			j.logger.Warn("job drop read failed", "path", p, "error", err)
			continue
		}
		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			j.logger.Warn("job drop parse failed", "path", p, "error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (j *JobDropSource0) Cancel() {
	j.stopOnce.Do(func() {
		j.cancelled.Store(true)
		close(j.stop)
		if j.watcher != nil {
			<-j.done
		}
	})
}

func (j *JobDropSource0) Modes() []rlmode.Mode { return j.modes }

func (j *JobDropSource0) IsValid() bool { return !j.cancelled.Load() }
