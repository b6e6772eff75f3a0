package otelinstr

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/basket/goclaw-runloop/internal/rlmode"
)

// Adapter implements internal/runloop.Metrics against a *Metrics instrument
// set, so the kernel can report phase durations and queue depth without
// importing this package. The kernel depends on the small interface it
// declares itself; Adapter is the only thing that depends on both sides.
type Adapter struct {
	metrics *Metrics
}

// NewAdapter wraps m so it satisfies internal/runloop.Metrics.
func NewAdapter(m *Metrics) *Adapter {
	return &Adapter{metrics: m}
}

// RecordPhase records one phase's wall-clock duration, tagged by phase name
// so a dashboard can break down where RunLoop spends its iterations.
func (a *Adapter) RecordPhase(phase rlmode.Phase, dur time.Duration) {
	a.metrics.PhaseDuration.Record(context.Background(), dur.Seconds(),
		attribute.Key("goclaw.runloop.phase").String(phase.String()),
	)
}

// RecordQueueDepth updates the snapshot the queue-depth observable gauge
// reports on its next collection.
func (a *Adapter) RecordQueueDepth(n int) {
	a.metrics.SetQueueDepth(n)
}
