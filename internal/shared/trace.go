// Package shared holds small cross-cutting helpers (context propagation,
// secret redaction) used by every runloop package to keep logging and
// correlation consistent without introducing an import cycle between them.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	traceKey contextKey = iota
	runKey
	taskKey
	agentKey
	correlationKey
)

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	return valueOrDash(ctx, traceKey)
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithRunID attaches a run_id (one RunLoop phase-cycle invocation) to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey, runID)
}

// RunID extracts run_id from context. Returns "-" if absent.
func RunID(ctx context.Context) string {
	return valueOrDash(ctx, runKey)
}

// NewRunID generates a new run_id.
func NewRunID() string {
	return uuid.NewString()
}

// WithTaskID attaches the task_id currently being handled to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskKey, taskID)
}

// TaskID extracts task_id from context. Returns "-" if absent.
func TaskID(ctx context.Context) string {
	return valueOrDash(ctx, taskKey)
}

// WithAgentID attaches the agent identifier driving the current task to the context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentKey, agentID)
}

// AgentID extracts agent_id from context. Returns "-" if absent.
func AgentID(ctx context.Context) string {
	return valueOrDash(ctx, agentKey)
}

// WithCorrelationID attaches the correlation_id tying a chain of tasks together.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationKey, correlationID)
}

// CorrelationID extracts correlation_id from context. Returns "-" if absent.
func CorrelationID(ctx context.Context) string {
	return valueOrDash(ctx, correlationKey)
}

func valueOrDash(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v
	}
	return "-"
}
