package otelinstr

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every instrument the runloop core and its collaborators
// report through. Grounded on zkoranges-go-claw/internal/otel/metrics.go's
// NewMetrics shape (one field and one meter.XInstrument call per concern),
// re-scoped from gateway/LLM/loop concerns to runloop/queue/worker/agent/
// spawner concerns.
type Metrics struct {
	PhaseDuration     metric.Float64Histogram
	TasksDispatched   metric.Int64Counter
	TasksRetried      metric.Int64Counter
	TasksDeadLettered metric.Int64Counter
	WorkerFailures    metric.Int64Counter
	AgentContexts     metric.Int64UpDownCounter
	AgentTasksTotal   metric.Int64Counter
	SpawnerActive     metric.Int64UpDownCounter
	SpawnerTotal      metric.Int64Counter

	queueDepth atomic.Int64
}

// NewMetrics creates all metric instruments from meter, including an
// observable gauge for queue depth: depth is a level, not a count of
// events, so it's reported via a callback reading an atomic snapshot
// rather than an Int64Counter/UpDownCounter delta.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.PhaseDuration, err = meter.Float64Histogram("goclaw_runloop.phase.duration",
		metric.WithDescription("RunLoop phase duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksDispatched, err = meter.Int64Counter("goclaw_runloop.tasks.dispatched",
		metric.WithDescription("Tasks handed to the worker pool"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksRetried, err = meter.Int64Counter("goclaw_runloop.tasks.retried",
		metric.WithDescription("Tasks re-enqueued after a retryable handler failure"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksDeadLettered, err = meter.Int64Counter("goclaw_runloop.tasks.dead_lettered",
		metric.WithDescription("Tasks routed to the dead-letter queue"),
	)
	if err != nil {
		return nil, err
	}

	m.WorkerFailures, err = meter.Int64Counter("goclaw_runloop.worker.failures",
		metric.WithDescription("Handler failures observed by the worker pool"),
	)
	if err != nil {
		return nil, err
	}

	m.AgentContexts, err = meter.Int64UpDownCounter("goclaw_runloop.agent.active_contexts",
		metric.WithDescription("Execution contexts currently tracked by the agent driver"),
	)
	if err != nil {
		return nil, err
	}

	m.AgentTasksTotal, err = meter.Int64Counter("goclaw_runloop.agent.tasks_processed",
		metric.WithDescription("Total agent: tasks processed"),
	)
	if err != nil {
		return nil, err
	}

	m.SpawnerActive, err = meter.Int64UpDownCounter("goclaw_runloop.spawner.active",
		metric.WithDescription("Currently running detached spawns"),
	)
	if err != nil {
		return nil, err
	}

	m.SpawnerTotal, err = meter.Int64Counter("goclaw_runloop.spawner.total",
		metric.WithDescription("Total spawns started"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge("goclaw_runloop.queue.depth",
		metric.WithDescription("Current task queue depth"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.queueDepth.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// SetQueueDepth updates the snapshot the queue-depth gauge callback reads.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Store(int64(n))
}
