package otelinstr

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for runloop spans. Grounded on
// zkoranges-go-claw/internal/otel/spans.go, renamed from goclaw.agent/llm/loop
// keys to the runloop domain's own task/mode/phase/spawn vocabulary.
var (
	AttrTaskID        = attribute.Key("goclaw.task.id")
	AttrTaskType      = attribute.Key("goclaw.task.type")
	AttrCorrelationID = attribute.Key("goclaw.correlation.id")
	AttrAgentName     = attribute.Key("goclaw.agent.name")
	AttrMode          = attribute.Key("goclaw.runloop.mode")
	AttrPhase         = attribute.Key("goclaw.runloop.phase")
	AttrSpawnID       = attribute.Key("goclaw.spawner.task_id")
	AttrSourceName    = attribute.Key("goclaw.source.name")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for inbound work entering the loop (a source
// delivering a task, a WebSocket connection being accepted).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call the runloop makes (an
// agent's model call, an outbound webhook from a task handler).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
