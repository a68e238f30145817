package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"simdeck/internal/core"
	"simdeck/internal/events"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63"))

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	statStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	warnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	doneStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
)

// Monitor is the Bubbletea model for watching one run.
type Monitor struct {
	handle  *core.RunHandle
	adapter *EventBusAdapter

	spinner  spinner.Model
	progress progress.Model

	stage     string
	pct       float64
	year      int
	years     int
	eps       float64
	memMB     float64
	memPress  string
	stale     bool
	staleAt   time.Time
	completed bool
	failed    bool
	errText   string
	duration  time.Duration
	width     int

	onCancel func()
}

// NewMonitor creates a run monitor fed by the event bus. onCancel is invoked
// when the user presses c to stop the run; it may be nil.
func NewMonitor(handle *core.RunHandle, bus *events.EventBus, onCancel func()) Monitor {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))

	return Monitor{
		handle:   handle,
		adapter:  NewEventBusAdapter(bus),
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient()),
		stage:    string(core.StageInit),
		onCancel: onCancel,
		width:    80,
	}
}

// Init implements tea.Model.
func (m Monitor) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForMsg(m.adapter))
}

// Update implements tea.Model.
func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.adapter.Close()
			return m, tea.Quit
		case "c":
			if m.onCancel != nil && !m.completed && !m.failed {
				m.onCancel()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(msg.Width-8, 60)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ProgressMsg:
		m.stage = msg.Stage
		m.pct = msg.Progress
		m.year = msg.CurrentYear
		m.years = msg.TotalYears
		m.eps = msg.EventsPerSecond
		m.memMB = msg.MemoryMB
		m.memPress = msg.MemoryPressure
		m.stale = false
		return m, waitForMsg(m.adapter)

	case StaleMsg:
		m.stale = true
		m.staleAt = msg.LastTelemetry
		return m, waitForMsg(m.adapter)

	case CompletedMsg:
		m.completed = true
		m.pct = 100
		m.stage = string(core.StageCompleted)
		m.duration = msg.Duration
		return m, waitForMsg(m.adapter)

	case FailedMsg:
		m.failed = true
		m.errText = msg.Error
		return m, waitForMsg(m.adapter)

	case CancelledMsg:
		m.adapter.Close()
		return m, tea.Quit

	case NavigationMsg:
		// The dashboard moves to results here; the terminal monitor exits.
		m.adapter.Close()
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model.
func (m Monitor) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Run %s", m.handle.RunID)))
	b.WriteString(statStyle.Render(fmt.Sprintf("  scenario %s", m.handle.ScenarioID)))
	b.WriteString("\n\n")

	switch {
	case m.failed:
		b.WriteString(failStyle.Render("✗ failed"))
		if m.errText != "" {
			b.WriteString(statStyle.Render("  " + m.errText))
		}
	case m.completed:
		b.WriteString(doneStyle.Render(fmt.Sprintf("✓ completed in %s", m.duration.Round(time.Second))))
	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(stageStyle.Render(m.stage))
		if m.years > 0 {
			b.WriteString(statStyle.Render(fmt.Sprintf("  year %d/%d", m.year, m.years)))
		}
	}
	b.WriteString("\n\n")

	b.WriteString(m.progress.ViewAs(m.pct / 100))
	b.WriteString(statStyle.Render(fmt.Sprintf(" %5.1f%%", m.pct)))
	b.WriteString("\n\n")

	if m.eps > 0 || m.memMB > 0 {
		b.WriteString(statStyle.Render(fmt.Sprintf("%.0f events/s   %.0f MB", m.eps, m.memMB)))
		if m.memPress != "" && m.memPress != string(core.MemoryPressureLow) {
			b.WriteString(warnStyle.Render("  mem:" + m.memPress))
		}
		b.WriteString("\n")
	}

	if m.stale {
		b.WriteString(warnStyle.Render(fmt.Sprintf("⚠ no telemetry since %s; press r in the dashboard to reset",
			m.staleAt.Format("15:04:05"))))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(statStyle.Render("c cancel · q quit"))
	b.WriteString("\n")

	return b.String()
}
