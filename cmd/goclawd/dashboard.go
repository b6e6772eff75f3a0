package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/goclaw-runloop/internal/queue"
	"github.com/basket/goclaw-runloop/internal/runloop"
	"github.com/basket/goclaw-runloop/internal/spawner"
	"github.com/basket/goclaw-runloop/internal/workerpool"
)

// dashboardStats is the live snapshot the kernel goroutine publishes and the
// TUI goroutine reads. Plain atomics rather than a mutex, since every field
// is read/written independently and a torn read across fields is harmless
// for a display refreshed twice a second.
type dashboardStats struct {
	lastPhase atomic.Value // string
	queueLen  atomic.Int64
	processed atomic.Uint64
	failed    atomic.Uint64
	spawns    atomic.Int64
}

func (s *dashboardStats) sample(rl *runloop.RunLoop, q *queue.Queue, pool *workerpool.Pool, sp *spawner.Spawner) {
	s.queueLen.Store(int64(q.Len()))
	stats := pool.Stats()
	s.processed.Store(stats.Processed)
	s.failed.Store(stats.Failed)
	s.spawns.Store(int64(sp.Metrics().ActiveTasks))
	s.lastPhase.Store(rl.State().String())
}

type statusTickMsg struct{}

// dashboardModel renders phase/queue/worker/spawner counters, styled the way
// internal/tui's activity pane renders agent status: a bordered block with a
// dim label column and a bright value column, refreshed on a ticker.
type dashboardModel struct {
	stats *dashboardStats
	quit  func()
}

func newDashboardModel(stats *dashboardStats, quit func()) dashboardModel {
	return dashboardModel{stats: stats, quit: quit}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg { return statusTickMsg{} })
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.quit != nil {
				m.quit()
			}
			return m, tea.Quit
		}
	case statusTickMsg:
		return m, tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg { return statusTickMsg{} })
	}
	return m, nil
}

func (m dashboardModel) View() string {
	titleS := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	dimS := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	valS := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	border := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).Padding(1, 2).Width(40)

	phase, _ := m.stats.lastPhase.Load().(string)
	if phase == "" {
		phase = "unknown"
	}

	row := func(label string, value any) string {
		return dimS.Render(fmt.Sprintf("%-18s", label)) + valS.Render(fmt.Sprintf("%v", value)) + "\n"
	}

	body := row("state", phase) +
		row("queue depth", m.stats.queueLen.Load()) +
		row("tasks processed", m.stats.processed.Load()) +
		row("tasks failed", m.stats.failed.Load()) +
		row("active spawns", m.stats.spawns.Load())

	return border.Render(titleS.Render("goclawd") + "\n\n" + body + "\n" + dimS.Render("press q to quit"))
}

// runDashboard attaches the live dashboard to the terminal and blocks until
// the user quits it. It never affects the kernel goroutine: stats is read
// only, and the RunLoop keeps running after the dashboard exits.
func runDashboard(stats *dashboardStats, stop func()) error {
	p := tea.NewProgram(newDashboardModel(stats, stop), tea.WithOutput(os.Stdout))
	_, err := p.Run()
	return err
}
