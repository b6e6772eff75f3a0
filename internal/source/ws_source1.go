package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/goclaw-runloop/internal/rlmode"
	"github.com/basket/goclaw-runloop/internal/task"
)

// wsInboundMessage is the wire shape a WSSource1 peer sends to enqueue work.
// It generalizes spec.md's Source1 "push" example (an OS-signal bridge) to
// an application-level message bridge.
type wsInboundMessage struct {
	TaskType string          `json:"task_type"`
	Payload  json.RawMessage `json:"payload"`
	Priority string          `json:"priority"`
}

func parsePriority(s string) task.Priority {
	switch s {
	case "low":
		return task.PriorityLow
	case "high":
		return task.PriorityHigh
	case "critical":
		return task.PriorityCritical
	default:
		return task.PriorityNormal
	}
}

// WSSource1 bridges an already-accepted websocket connection's receive loop
// into the RunLoop as a Source1: every well-formed inbound message becomes a
// Task pushed onto Events(). Grounded on the connection-handling pattern in
// zkoranges-go-claw's internal/gateway/gateway.go (websocket.Accept,
// wsjson.Read, conn.Close on read error).
type WSSource1 struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger
	modes  []rlmode.Mode

	events    chan task.Task
	cancelled atomic.Bool
	closeOnce sync.Once
}

// NewWSSource1 wraps an accepted connection. Callers must call Run in a
// goroutine to start the receive loop.
func NewWSSource1(id string, conn *websocket.Conn, logger *slog.Logger) *WSSource1 {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSSource1{
		id:     id,
		conn:   conn,
		logger: logger,
		modes:  []rlmode.Mode{rlmode.Default},
		events: make(chan task.Task, 64),
	}
}

func (w *WSSource1) ID() string               { return w.id }
func (w *WSSource1) Modes() []rlmode.Mode     { return w.modes }
func (w *WSSource1) Events() <-chan task.Task { return w.events }
func (w *WSSource1) IsValid() bool            { return !w.cancelled.Load() }

// Run drives the receive loop until ctx is cancelled, the peer disconnects,
// or Cancel is called. It closes the connection and the events channel on
// exit, so callers should spawn Run as a cancellable unit (see
// internal/spawner).
func (w *WSSource1) Run(ctx context.Context) {
	defer close(w.events)
	defer w.conn.Close(websocket.StatusNormalClosure, "source closed")

	for {
		var msg wsInboundMessage
		if err := wsjson.Read(ctx, w.conn, &msg); err != nil {
			if !w.cancelled.Load() {
				w.logger.Debug("ws source1 read ended", "source_id", w.id, "error", err)
			}
			return
		}

		if msg.TaskType == "" {
			continue
		}

		t := task.New(msg.TaskType, msg.Payload, parsePriority(msg.Priority), task.SourceExternal, time.Now())

		select {
		case w.events <- t:
		case <-ctx.Done():
			return
		default:
			w.logger.Warn("ws source1 backpressure, closing connection", "source_id", w.id)
			w.conn.Close(websocket.StatusPolicyViolation, "backpressure")
			return
		}
	}
}

// Cancel closes the underlying connection, unblocking Run.
func (w *WSSource1) Cancel() {
	w.closeOnce.Do(func() {
		w.cancelled.Store(true)
		w.conn.Close(websocket.StatusGoingAway, "cancelled")
	})
}
