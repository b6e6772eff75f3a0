package observer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/basket/goclaw-runloop/internal/rlmode"
)

// HealthStatus reports the result of a single HealthCheckable poll.
type HealthStatus struct {
	Healthy bool
	Message string
}

// Healthy reports an "OK" status.
func Healthy() HealthStatus { return HealthStatus{Healthy: true, Message: "OK"} }

// Unhealthy reports a failing status with a message.
func Unhealthy(message string) HealthStatus { return HealthStatus{Healthy: false, Message: message} }

// HealthCheckable is a component the HealthObserver can poll.
type HealthCheckable interface {
	Name() string
	HealthCheck(ctx context.Context) (HealthStatus, error)
}

// HealthObserver polls registered components at PhaseBeforeWaiting and
// tracks consecutive failures against a threshold, logging when a
// component crosses it and when it recovers.
type HealthObserver struct {
	logger            *slog.Logger
	failureThreshold  uint32
	consecutiveFailed atomic.Uint32

	mu     sync.RWMutex
	checks []HealthCheckable
}

// NewHealthObserver constructs a HealthObserver. A zero threshold defaults
// to 3 consecutive failures.
func NewHealthObserver(failureThreshold uint32, logger *slog.Logger) *HealthObserver {
	if failureThreshold == 0 {
		failureThreshold = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthObserver{failureThreshold: failureThreshold, logger: logger}
}

// Register adds a component to be polled.
func (h *HealthObserver) Register(c HealthCheckable) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// AsObserver returns an Observer that invokes Poll at PhaseBeforeWaiting.
func (h *HealthObserver) AsObserver(id string, priority int) Observer {
	return Observer{
		ID:       id,
		Priority: priority,
		Activity: rlmode.PhaseBeforeWaiting,
		Fn:       func(rlmode.Phase) { h.Poll(context.Background()) },
	}
}

// Poll runs every registered health check and updates the consecutive
// failure counter. It logs once when the failure streak crosses the
// threshold and once when it recovers to zero.
func (h *HealthObserver) Poll(ctx context.Context) {
	h.mu.RLock()
	checks := make([]HealthCheckable, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	allHealthy := true
	for _, c := range checks {
		status, err := c.HealthCheck(ctx)
		if err != nil || !status.Healthy {
			allHealthy = false
			msg := status.Message
			if err != nil {
				msg = err.Error()
			}
			h.logger.Warn("health check failing", "component", c.Name(), "message", msg)
		}
	}

	if allHealthy {
		if h.consecutiveFailed.Swap(0) >= h.failureThreshold {
			h.logger.Info("health checks recovered")
		}
		return
	}

	n := h.consecutiveFailed.Add(1)
	if n == h.failureThreshold {
		h.logger.Error("health check failure threshold crossed", "consecutive_failures", n)
	}
}

// ConsecutiveFailures returns the current failure streak.
func (h *HealthObserver) ConsecutiveFailures() uint32 {
	return h.consecutiveFailed.Load()
}
