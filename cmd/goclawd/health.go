package main

import (
	"context"
	"strconv"

	"github.com/basket/goclaw-runloop/internal/agentdriver"
	"github.com/basket/goclaw-runloop/internal/observer"
	"github.com/basket/goclaw-runloop/internal/queue"
)

// queueHealth reports unhealthy once the dead-letter queue starts
// accumulating tasks, the same signal a human operator would watch.
type queueHealth struct {
	q *queue.Queue
}

func (h *queueHealth) Name() string { return "queue" }

func (h *queueHealth) HealthCheck(context.Context) (observer.HealthStatus, error) {
	if n := len(h.q.DeadLetterQueue()); n > 0 {
		return observer.Unhealthy("dead letter queue has " + strconv.Itoa(n) + " tasks"), nil
	}
	return observer.Healthy(), nil
}

// agentDriverHealth reports unhealthy once the driver has been stopped,
// which means every queued agent: task will fail until it's restarted.
type agentDriverHealth struct {
	d *agentdriver.Driver
}

func (h *agentDriverHealth) Name() string { return "agent_driver" }

func (h *agentDriverHealth) HealthCheck(context.Context) (observer.HealthStatus, error) {
	if !h.d.IsRunning() {
		return observer.Unhealthy("agent driver is stopped"), nil
	}
	return observer.Healthy(), nil
}
