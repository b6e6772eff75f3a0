package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/goclaw-runloop/internal/task"
)

func TestJobDropSource0_DetectsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	w := &fakeWaker{}
	src := NewJobDropSource0("jobdrop", dir, w, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Cancel()

	dropped := task.New("agent:execute", []byte(`{"x":1}`), task.PriorityNormal, task.SourceExternal, time.Now())
	data, err := json.Marshal(dropped)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "job1.json"), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if src.IsSignaled() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !src.IsSignaled() {
		t.Fatalf("expected source to become signaled after file drop")
	}
	if w.calls.Load() == 0 {
		t.Fatalf("expected waker to be called")
	}

	tasks, err := src.Perform(context.Background())
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != dropped.ID {
		t.Fatalf("expected dropped task to be parsed, got %+v", tasks)
	}
}

func TestJobDropSource0_SkipsUnparseableFile(t *testing.T) {
	dir := t.TempDir()
	w := &fakeWaker{}
	src := NewJobDropSource0("jobdrop", dir, w, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Cancel()

	if err := os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if src.IsSignaled() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	tasks, err := src.Perform(context.Background())
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected unparseable file to be skipped, got %+v", tasks)
	}
}
