package runloop

import (
	"context"
	"sort"
	"time"

	"github.com/basket/goclaw-runloop/internal/rlmode"
	"github.com/basket/goclaw-runloop/internal/shared"
	"github.com/basket/goclaw-runloop/internal/task"
	"github.com/basket/goclaw-runloop/internal/telemetry"
)

type waitOutcome int

const (
	waitWoken waitOutcome = iota
	waitTimedOut
	waitStopped
)

// RunInMode runs the phase cycle in mode until Stop is called, the caller
// deadline elapses unattended, or the mode has nothing registered to begin
// with. deadline <= 0 means wait indefinitely for a wake, a timer, or Stop.
//
// This mirrors CFRunLoopRunInMode's result codes: Finished is returned
// immediately when mode has no sources/timers (there is nothing this call
// could ever do); HandledSource is returned the moment a source or timer
// produces work, without sleeping, so callers pumping "run until something
// happens" get a tight turnaround; TimedOut and Stopped cover the two ways
// a sleep can end without work to show for it.
func (r *RunLoop) RunInMode(ctx context.Context, mode rlmode.Mode, deadline time.Duration) (RunResult, error) {
	if r.stopRequested() {
		return ResultStopped, nil
	}
	if r.isEmptyMode(mode) {
		return ResultFinished, nil
	}

	ctx = shared.WithRunID(ctx, shared.NewRunID())

	r.state.Store(int32(StateRunning))
	r.notify(rlmode.PhaseEntry)

	var absDeadline time.Time
	if deadline > 0 {
		absDeadline = time.Now().Add(deadline)
	}

	for {
		if r.stopRequested() {
			return r.finishStopping(), nil
		}

		r.notify(rlmode.PhaseBeforeTimers)
		r.fireDueTimers(ctx, mode)

		r.notify(rlmode.PhaseBeforeSources)
		handled := r.drainSources(ctx, mode)

		if handled {
			r.notify(rlmode.PhaseExit)
			return ResultHandledSource, nil
		}

		r.notify(rlmode.PhaseBeforeWaiting)
		waitDeadline := r.nextWaitDeadline(mode, absDeadline)

		r.state.Store(int32(StateWaiting))
		outcome := r.wait(ctx, waitDeadline)
		r.state.Store(int32(StateRunning))
		r.notify(rlmode.PhaseAfterWaiting)

		switch outcome {
		case waitStopped:
			return r.finishStopping(), nil
		case waitTimedOut:
			r.notify(rlmode.PhaseExit)
			return ResultTimedOut, nil
		case waitWoken:
			continue
		}
	}
}

func (r *RunLoop) finishStopping() RunResult {
	r.state.Store(int32(StateStopping))
	r.notify(rlmode.PhaseExit)
	r.state.Store(int32(StateStopped))
	return ResultStopped
}

func (r *RunLoop) wait(ctx context.Context, deadline time.Time) waitOutcome {
	var timerC <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return waitTimedOut
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timerC = t.C
	}

	select {
	case <-r.stopCh:
		return waitStopped
	case <-ctx.Done():
		return waitStopped
	case <-r.wakeCh:
		return waitWoken
	case <-timerC:
		return waitTimedOut
	}
}

func (r *RunLoop) isEmptyMode(mode rlmode.Mode) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.sources0 {
		if modeActive(e.modes, mode) {
			return false
		}
	}
	for _, e := range r.sources1 {
		if modeActive(e.modes, mode) {
			return false
		}
	}
	for _, e := range r.timers {
		if modeActive(e.modes, mode) {
			return false
		}
	}
	return true
}

func (r *RunLoop) fireDueTimers(ctx context.Context, mode rlmode.Mode) {
	now := time.Now()

	r.mu.RLock()
	entries := make([]*timerEntry, 0, len(r.timers))
	for _, e := range r.timers {
		if modeActive(e.modes, mode) {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	sortBySeq(entries)

	var toPrune []string
	for _, e := range entries {
		if e.timer.IsCancelled() {
			toPrune = append(toPrune, e.timer.ID())
			continue
		}
		if !e.timer.DueAt(now) {
			continue
		}
		t := task.New(e.timer.TaskType(), nil, e.timer.Priority(), task.SourceTimer, now)
		taskCtx := shared.WithTaskID(ctx, t.ID)
		if err := r.enqueue(taskCtx, t); err != nil {
			r.logger.Error("timer enqueue failed", append(telemetry.ContextFields(taskCtx), "timer_id", e.timer.ID(), "error", err)...)
		}
		if e.timer.IsCancelled() {
			toPrune = append(toPrune, e.timer.ID())
		}
	}

	if len(toPrune) > 0 {
		r.mu.Lock()
		for _, id := range toPrune {
			delete(r.timers, id)
		}
		r.mu.Unlock()
	}
}

// drainSources performs every signaled Source0 in mode, drains buffered
// Source1 deliveries, then hands every now-ready task in the queue to the
// dispatcher. It reports whether any work was produced or dispatched.
func (r *RunLoop) drainSources(ctx context.Context, mode rlmode.Mode) bool {
	handled := false

	r.mu.RLock()
	entries := make([]*source0Entry, 0, len(r.sources0))
	for _, e := range r.sources0 {
		if modeActive(e.modes, mode) {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()
	sortBySeq0(entries)

	var invalid []string
	for _, e := range entries {
		if !e.src.IsValid() {
			invalid = append(invalid, e.src.ID())
			continue
		}
		if !e.src.IsSignaled() {
			continue
		}
		tasks, err := e.src.Perform(ctx)
		if err != nil {
			r.logger.Error("source0 perform failed", append(telemetry.ContextFields(ctx), "source_id", e.src.ID(), "error", err)...)
			continue
		}
		for _, t := range tasks {
			taskCtx := shared.WithTaskID(ctx, t.ID)
			if err := r.enqueue(taskCtx, t); err != nil {
				r.logger.Error("source0 enqueue failed", append(telemetry.ContextFields(taskCtx), "source_id", e.src.ID(), "error", err)...)
				continue
			}
			handled = true
		}
	}
	if len(invalid) > 0 {
		r.mu.Lock()
		for _, id := range invalid {
			delete(r.sources0, id)
		}
		r.mu.Unlock()
	}

	r.s1mu.Lock()
	pending := r.s1Pending
	r.s1Pending = nil
	r.s1mu.Unlock()
	for _, t := range pending {
		taskCtx := shared.WithTaskID(ctx, t.ID)
		if err := r.enqueue(taskCtx, t); err != nil {
			r.logger.Error("source1 enqueue failed", append(telemetry.ContextFields(taskCtx), "error", err)...)
			continue
		}
		handled = true
	}

	for {
		t := r.queue.Dequeue()
		if t == nil {
			break
		}
		handled = true
		if r.dispatcher == nil {
			continue
		}
		taskCtx := shared.WithTaskID(shared.WithCorrelationID(ctx, t.CorrelationID), t.ID)
		if err := r.dispatcher.Submit(taskCtx, *t); err != nil {
			r.logger.Error("dispatch failed", append(telemetry.ContextFields(taskCtx), "error", err)...)
		}
	}

	return handled
}

func (r *RunLoop) nextWaitDeadline(mode rlmode.Mode, absDeadline time.Time) time.Time {
	var next time.Time

	r.mu.RLock()
	for _, e := range r.timers {
		if !modeActive(e.modes, mode) || e.timer.IsCancelled() {
			continue
		}
		nf := e.timer.NextFireAt()
		if next.IsZero() || nf.Before(next) {
			next = nf
		}
	}
	r.mu.RUnlock()

	if !absDeadline.IsZero() && (next.IsZero() || absDeadline.Before(next)) {
		next = absDeadline
	}
	return next
}

func sortBySeq(entries []*timerEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
}

func sortBySeq0(entries []*source0Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
}
