// Package observer implements phase-subscribed Observers: callbacks the
// RunLoop kernel invokes at well-defined points within a cycle, ordered by
// priority and isolated from each other's panics.
package observer

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/basket/goclaw-runloop/internal/rlmode"
)

// Callback is invoked by the kernel when the observer's activity mask
// matches the current phase. It receives the phase that fired it.
type Callback func(phase rlmode.Phase)

// Observer is a priority-ordered, phase-subscribed callback. Higher
// Priority values run first; negative priorities run last.
type Observer struct {
	ID       string
	Priority int
	Activity rlmode.Phase
	Fn       Callback

	registeredAt int64 // monotonic registration sequence, used as a tiebreak
}

// Registry holds the Observers subscribed to a single Mode.
type Registry struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	seq      int64
	byID     map[string]*Observer
	ordered  []*Observer
	needSort bool
}

// NewRegistry constructs an empty Registry. A nil logger defaults to
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, byID: make(map[string]*Observer)}
}

// Add registers an observer. Returns false if the ID already exists.
func (r *Registry) Add(o Observer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[o.ID]; exists {
		return false
	}

	r.seq++
	o.registeredAt = r.seq
	stored := o
	r.byID[o.ID] = &stored
	r.ordered = append(r.ordered, &stored)
	r.needSort = true
	return true
}

// Remove unregisters an observer by ID. Returns false if it was not found.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; !exists {
		return false
	}
	delete(r.byID, id)
	for i, o := range r.ordered {
		if o.ID == id {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) sortLocked() {
	if !r.needSort {
		return
	}
	sort.SliceStable(r.ordered, func(i, j int) bool {
		if r.ordered[i].Priority != r.ordered[j].Priority {
			return r.ordered[i].Priority > r.ordered[j].Priority
		}
		return r.ordered[i].registeredAt < r.ordered[j].registeredAt
	})
	r.needSort = false
}

// Notify invokes every observer subscribed to phase, in priority order.
// A panicking observer is recovered, logged, and does not prevent the
// remaining observers from running.
func (r *Registry) Notify(phase rlmode.Phase) {
	r.mu.Lock()
	r.sortLocked()
	snapshot := make([]*Observer, len(r.ordered))
	copy(snapshot, r.ordered)
	r.mu.Unlock()

	for _, o := range snapshot {
		if !phase.Matches(o.Activity) {
			continue
		}
		r.invoke(o, phase)
	}
}

func (r *Registry) invoke(o *Observer, phase rlmode.Phase) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("observer panicked",
				"observer_id", o.ID,
				"phase", phase.String(),
				"panic", rec,
			)
		}
	}()
	o.Fn(phase)
}

// Len returns the number of registered observers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}
