// Command goclawd is a thin composition root demonstrating how the
// RunLoop kernel, queue, worker pool, agent driver, spawner, timers,
// sources, and observers wire together. It is not a product front end:
// HTTP/WebSocket listeners, LLM provider calls, and persistence beyond the
// three Store adapters stay out of scope, matching the core's Non-goals.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/goclaw-runloop/internal/agentdriver"
	"github.com/basket/goclaw-runloop/internal/observer"
	"github.com/basket/goclaw-runloop/internal/otelinstr"
	"github.com/basket/goclaw-runloop/internal/queue"
	"github.com/basket/goclaw-runloop/internal/rlmode"
	"github.com/basket/goclaw-runloop/internal/runloop"
	"github.com/basket/goclaw-runloop/internal/shared"
	"github.com/basket/goclaw-runloop/internal/source"
	"github.com/basket/goclaw-runloop/internal/spawner"
	"github.com/basket/goclaw-runloop/internal/telemetry"
	"github.com/basket/goclaw-runloop/internal/timer"
	"github.com/basket/goclaw-runloop/internal/workerpool"
)

func main() {
	configPath := flag.String("config", "goclawd.yaml", "path to the wiring config")
	noDashboard := flag.Bool("no-dashboard", false, "disable the live TUI dashboard")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create home dir:", err)
		os.Exit(1)
	}

	interactive := !*noDashboard && cfg.Dashboard != "off" &&
		(cfg.Dashboard == "on" || isatty.IsTerminal(os.Stdout.Fd()))

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, interactive)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())

	otelCfg := otelinstr.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	}
	provider, err := otelinstr.Init(ctx, otelCfg)
	if err != nil {
		logger.Error("otel init failed", "error", err)
		os.Exit(1)
	}
	defer provider.Shutdown(context.Background())

	metrics, err := otelinstr.NewMetrics(provider.Meter)
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		os.Exit(1)
	}
	adapter := otelinstr.NewAdapter(metrics)

	store, err := buildStore(cfg.Queue, cfg.HomeDir)
	if err != nil {
		logger.Error("queue store init failed", "error", err)
		os.Exit(1)
	}

	q := queue.New(queue.Config{
		MaxSize:           cfg.Queue.MaxSize,
		DeadLetterEnabled: cfg.Queue.DeadLetterEnabled,
	}, store)
	if err := q.LoadFromStore(ctx); err != nil {
		logger.Warn("failed to load pending tasks from store", "error", err)
	}

	agentSource := source.NewAgentSource0("agent0")
	waker := &runLoopWaker{}
	injector := source.NewInjector(agentSource, waker)

	driver := agentdriver.New(agentdriver.Config{
		MaxConcurrent: cfg.AgentDriver.MaxConcurrent,
		Handler:       agentdriver.NoOpEventHandler{},
		Injector:      injector,
		Logger:        logger,
	})
	driver.Start()
	defer driver.Stop()

	pool := workerpool.New(workerpool.Config{
		MaxWorkers: cfg.Workers.MaxWorkers,
		Logger:     logger,
	}, q, driver)
	defer pool.Stop()

	observers := observer.NewRegistry(logger)

	health := observer.NewHealthObserver(3, logger)
	health.Register(&queueHealth{q: q})
	health.Register(&agentDriverHealth{d: driver})
	observers.Add(health.AsObserver("health", 0))

	rl := runloop.New(runloop.Config{
		Queue:      q,
		Dispatcher: pool,
		Logger:     logger,
		Metrics:    adapter,
		Observers:  observers,
	})
	waker.rl = rl

	if err := rl.AddSource0(agentSource, rlmode.Common); err != nil {
		logger.Error("failed to register agent source", "error", err)
		os.Exit(1)
	}

	if cfg.Queue.Backend == "file" {
		jobDropDir := filepath.Join(cfg.HomeDir, "jobs-drop")
		jobDrop := source.NewJobDropSource0("job_drop", jobDropDir, waker, logger)
		if err := jobDrop.Start(ctx); err != nil {
			logger.Warn("job drop source failed to start", "error", err)
		} else if err := rl.AddSource0(jobDrop, rlmode.Default); err != nil {
			logger.Warn("failed to register job drop source", "error", err)
		}
	}

	sp := spawner.New(spawner.Config{
		StateProvider: runLoopStateProvider{rl: rl},
		RestartWindow: time.Duration(cfg.Spawner.RestartWindowSeconds) * time.Second,
		RestartBudget: cfg.Spawner.RestartBudget,
		Logger:        logger,
	})

	if err := registerTimers(rl, cfg.Timers, logger); err != nil {
		logger.Error("failed to register timers", "error", err)
		os.Exit(1)
	}

	stats := &dashboardStats{}
	statsObserver := observer.Observer{
		ID:       "dashboard_sampler",
		Priority: -100,
		Activity: rlmode.PhaseBeforeWaiting,
		Fn:       func(rlmode.Phase) { stats.sample(rl, q, pool, sp) },
	}
	observers.Add(statsObserver)

	runErr := make(chan error, 1)
	go func() {
		runErr <- driveLoop(ctx, rl)
	}()

	logger.Info("goclawd started", "home", cfg.HomeDir, "workers", cfg.Workers.MaxWorkers)

	if interactive {
		if err := runDashboard(stats, stop); err != nil {
			logger.Warn("dashboard exited with error", "error", err)
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-runErr:
		if err != nil {
			logger.Error("runloop exited with error", "error", err)
		}
	}

	rl.Stop()
	pool.Drain(5 * time.Second)
	logger.Info("shutdown complete")
}

// driveLoop repeatedly calls RunInMode, the same way CFRunLoopRun wraps
// CFRunLoopRunInMode in a loop, until the kernel reports Stopped or ctx is
// cancelled.
func driveLoop(ctx context.Context, rl *runloop.RunLoop) error {
	for {
		result, err := rl.RunInMode(ctx, rlmode.Common, 2*time.Second)
		if err != nil {
			return err
		}
		switch result {
		case runloop.ResultStopped:
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// runLoopWaker adapts *runloop.RunLoop to source.Waker without requiring the
// RunLoop to exist before the AgentSource0/Injector that reference it do.
type runLoopWaker struct {
	rl *runloop.RunLoop
}

func (w *runLoopWaker) Wakeup(reason string) {
	if w.rl != nil {
		w.rl.Wakeup(reason)
	}
}

// runLoopStateProvider adapts *runloop.RunLoop to spawner.StateProvider.
type runLoopStateProvider struct {
	rl *runloop.RunLoop
}

func (p runLoopStateProvider) IsStopping() bool {
	switch p.rl.State() {
	case runloop.StateStopping, runloop.StateStopped:
		return true
	default:
		return false
	}
}

func buildStore(cfg QueueConfig, homeDir string) (queue.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return queue.NewMemoryStore(), nil
	case "file":
		root := cfg.Path
		if root == "" {
			root = homeDir
		}
		return queue.NewFileStore(root)
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(homeDir, "goclawd.db")
		}
		return queue.OpenSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown queue backend: %s (supported: memory, file, sqlite)", cfg.Backend)
	}
}

func registerTimers(rl *runloop.RunLoop, timers []TimerConfig, logger *slog.Logger) error {
	now := time.Now()
	for _, tc := range timers {
		if tc.Cron != "" {
			ct, err := timer.NewCronTimer(tc.ID, tc.Cron, now, tc.TaskType, []rlmode.Mode{rlmode.Default})
			if err != nil {
				return fmt.Errorf("timer %q: %w", tc.ID, err)
			}
			if err := rl.AddTimer(ct, rlmode.Default); err != nil {
				return fmt.Errorf("register timer %q: %w", tc.ID, err)
			}
			continue
		}
		if tc.IntervalSeconds > 0 {
			interval := time.Duration(tc.IntervalSeconds) * time.Second
			t := timer.NewRepeating(tc.ID, now.Add(interval), interval, tc.TaskType, []rlmode.Mode{rlmode.Default})
			if err := rl.AddTimer(t, rlmode.Default); err != nil {
				return fmt.Errorf("register timer %q: %w", tc.ID, err)
			}
			continue
		}
		logger.Warn("timer config has neither cron nor interval_seconds, skipping", "id", tc.ID)
	}
	return nil
}
