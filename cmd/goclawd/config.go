package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// QueueConfig selects and sizes the durable Store backing the task queue.
type QueueConfig struct {
	Backend           string `yaml:"backend"` // "memory" | "file" | "sqlite"
	Path              string `yaml:"path"`
	MaxSize           int    `yaml:"max_size"`
	DeadLetterEnabled bool   `yaml:"dead_letter_enabled"`
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

// AgentDriverConfig sizes the agent driver's own concurrency gate.
type AgentDriverConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// SpawnerConfig configures the detached-spawn restart budget.
type SpawnerConfig struct {
	RestartWindowSeconds int `yaml:"restart_window_seconds"`
	RestartBudget        int `yaml:"restart_budget"`
}

// TelemetryConfig mirrors otelinstr.Config's YAML shape.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// TimerConfig declares one timer to register with the kernel at startup.
// Exactly one of Cron or IntervalSeconds should be set; Cron wins if both are.
type TimerConfig struct {
	ID              string `yaml:"id"`
	TaskType        string `yaml:"task_type"`
	Cron            string `yaml:"cron"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// Config is the goclawd.yaml wiring file: which modes, timers, and store
// backend to construct at startup. The core packages never see this type —
// main.go is the only place that unmarshals YAML, per spec.md's explicit
// config-loading Non-goal.
type Config struct {
	HomeDir     string            `yaml:"home_dir"`
	LogLevel    string            `yaml:"log_level"`
	Queue       QueueConfig       `yaml:"queue"`
	Workers     WorkerConfig      `yaml:"workers"`
	AgentDriver AgentDriverConfig `yaml:"agent_driver"`
	Spawner     SpawnerConfig     `yaml:"spawner"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Timers      []TimerConfig     `yaml:"timers"`
	Dashboard   string            `yaml:"dashboard"` // "auto" | "on" | "off"
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Queue: QueueConfig{
			Backend:           "memory",
			MaxSize:           1000,
			DeadLetterEnabled: true,
		},
		Workers:     WorkerConfig{MaxWorkers: 8},
		AgentDriver: AgentDriverConfig{MaxConcurrent: 4},
		Spawner:     SpawnerConfig{RestartWindowSeconds: 60, RestartBudget: 5},
		Telemetry:   TelemetryConfig{Exporter: "none", ServiceName: "goclaw-runloop"},
		Dashboard:   "auto",
	}
}

// homeDir resolves the data directory: GOCLAW_RUNLOOP_HOME overrides,
// otherwise ~/.goclaw-runloop, mirroring the teacher's GOCLAW_HOME pattern.
func homeDir() string {
	if override := os.Getenv("GOCLAW_RUNLOOP_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".goclaw-runloop")
}

// loadConfig reads goclawd.yaml from path, applying defaults for anything
// left unset. A missing file is not an error: defaults alone are enough to
// run the demo composition root.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "memory"
	}
	if cfg.Workers.MaxWorkers <= 0 {
		cfg.Workers.MaxWorkers = 8
	}
	if cfg.AgentDriver.MaxConcurrent <= 0 {
		cfg.AgentDriver.MaxConcurrent = 4
	}
	if cfg.Spawner.RestartWindowSeconds <= 0 {
		cfg.Spawner.RestartWindowSeconds = 60
	}
	if cfg.Spawner.RestartBudget <= 0 {
		cfg.Spawner.RestartBudget = 5
	}
	if cfg.Dashboard == "" {
		cfg.Dashboard = "auto"
	}
	return cfg, nil
}
