// Package source implements the RunLoop's Source0 (pull/signaled) and
// Source1 (push/channel) input mechanisms, including the Agent self-driving
// source and bridges onto filesystem and websocket events.
package source

import (
	"context"

	"github.com/basket/goclaw-runloop/internal/rlmode"
	"github.com/basket/goclaw-runloop/internal/task"
)

// Source0 is a pull-model source: the kernel asks whether it is signaled
// and, if so, calls Perform to drain whatever work accumulated.
type Source0 interface {
	ID() string
	IsSignaled() bool
	Signal()
	ClearSignal()
	Perform(ctx context.Context) ([]task.Task, error)
	Cancel()
	Modes() []rlmode.Mode
	IsValid() bool
}

// Source1 is a push-model source: it owns a channel the kernel selects on
// directly rather than polling, used to bridge an external event stream
// (a websocket connection, an OS signal channel) into the RunLoop.
type Source1 interface {
	ID() string
	Modes() []rlmode.Mode
	Events() <-chan task.Task
	Cancel()
	IsValid() bool
}
