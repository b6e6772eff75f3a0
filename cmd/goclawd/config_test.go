package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.Queue.Backend != "memory" {
		t.Fatalf("expected default queue backend memory, got %q", cfg.Queue.Backend)
	}
	if cfg.Workers.MaxWorkers != 8 {
		t.Fatalf("expected default max workers 8, got %d", cfg.Workers.MaxWorkers)
	}
	if cfg.Dashboard != "auto" {
		t.Fatalf("expected default dashboard auto, got %q", cfg.Dashboard)
	}
}

func TestLoadConfig_YAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goclawd.yaml")
	body := "log_level: debug\n" +
		"queue:\n  backend: file\n  path: /tmp/jobs\n  max_size: 50\n" +
		"workers:\n  max_workers: 2\n" +
		"dashboard: off\n" +
		"timers:\n  - id: sweep\n    task_type: cleanup\n    interval_seconds: 30\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level debug, got %q", cfg.LogLevel)
	}
	if cfg.Queue.Backend != "file" || cfg.Queue.Path != "/tmp/jobs" || cfg.Queue.MaxSize != 50 {
		t.Fatalf("unexpected queue config: %+v", cfg.Queue)
	}
	if cfg.Workers.MaxWorkers != 2 {
		t.Fatalf("expected max_workers 2, got %d", cfg.Workers.MaxWorkers)
	}
	if cfg.Dashboard != "off" {
		t.Fatalf("expected dashboard off, got %q", cfg.Dashboard)
	}
	if len(cfg.Timers) != 1 || cfg.Timers[0].ID != "sweep" || cfg.Timers[0].IntervalSeconds != 30 {
		t.Fatalf("unexpected timers: %+v", cfg.Timers)
	}
}

func TestLoadConfig_ZeroWorkersFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goclawd.yaml")
	if err := os.WriteFile(path, []byte("workers:\n  max_workers: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Workers.MaxWorkers != 8 {
		t.Fatalf("expected fallback to default 8 workers, got %d", cfg.Workers.MaxWorkers)
	}
}

func TestHomeDir_EnvOverride(t *testing.T) {
	t.Setenv("GOCLAW_RUNLOOP_HOME", "/tmp/goclaw-runloop-test")
	if got := homeDir(); got != "/tmp/goclaw-runloop-test" {
		t.Fatalf("expected env override, got %q", got)
	}
}

func TestHomeDir_DefaultsUnderUserHome(t *testing.T) {
	t.Setenv("GOCLAW_RUNLOOP_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Skip("no resolvable user home in this environment")
	}
	want := filepath.Join(home, ".goclaw-runloop")
	if got := homeDir(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
