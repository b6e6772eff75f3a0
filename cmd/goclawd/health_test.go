package main

import (
	"context"
	"testing"
	"time"

	"github.com/basket/goclaw-runloop/internal/agentdriver"
	"github.com/basket/goclaw-runloop/internal/queue"
	"github.com/basket/goclaw-runloop/internal/task"
)

func TestQueueHealth_HealthyWhenDeadLetterEmpty(t *testing.T) {
	q := queue.New(queue.Config{}, queue.NewMemoryStore())
	h := &queueHealth{q: q}

	status, err := h.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if !status.Healthy {
		t.Fatalf("expected healthy, got %+v", status)
	}
}

func TestQueueHealth_UnhealthyWhenDeadLetterHasTasks(t *testing.T) {
	q := queue.New(queue.Config{}, queue.NewMemoryStore())
	tk := task.New("demo", nil, task.PriorityNormal, task.SourceUser, time.Now())
	if err := q.MoveToDeadLetter(context.Background(), tk); err != nil {
		t.Fatalf("move to dead letter: %v", err)
	}

	h := &queueHealth{q: q}
	status, err := h.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if status.Healthy {
		t.Fatalf("expected unhealthy once dead letter queue is non-empty")
	}
}

func TestAgentDriverHealth_UnhealthyWhenStopped(t *testing.T) {
	d := agentdriver.New(agentdriver.Config{})
	h := &agentDriverHealth{d: d}

	status, err := h.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if status.Healthy {
		t.Fatalf("expected unhealthy before Start is called")
	}

	d.Start()
	defer d.Stop()

	status, err = h.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if !status.Healthy {
		t.Fatalf("expected healthy once running")
	}
}
