package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"forkbench/internal/coordinator"
	"forkbench/internal/stats"
	"forkbench/internal/tui/components"
	"forkbench/internal/tui/styles"
)

// Model shows the run while workers are active.
type Model struct {
	Snapshot coordinator.Snapshot
	Progress progress.Model

	RateLine     components.Sparkline
	WindowedLine components.Sparkline

	prevRate     int64
	prevWindowed int64

	Width  int
	Height int
}

func NewModel() Model {
	return Model{
		Progress:     progress.New(progress.WithDefaultGradient()),
		RateLine:     components.NewSparkline(40, "TPS", styles.Active),
		WindowedLine: components.NewSparkline(40, "Rolling TPS", styles.Warn),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case coordinator.Snapshot:
		m.prevRate, m.prevWindowed = m.Snapshot.Rate, m.Snapshot.Windowed
		m.Snapshot = msg
		m.RateLine.Add(msg.Rate)
		m.WindowedLine.Add(msg.Windowed)

		pct := 0.0
		if msg.Total > 0 {
			pct = float64(msg.Finished) / float64(msg.Total)
		}
		return m, m.Progress.SetPercent(pct)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := (msg.Width / 2) - 6
		if half < 10 {
			half = 10
		}
		m.RateLine.Width = half
		m.WindowedLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	var s strings.Builder
	snap := m.Snapshot

	head := fmt.Sprintf("%s TPS %s   rolling %s TPS %s   %s",
		styles.Value.Render(humanize.Comma(snap.Rate)), delta(m.prevRate, snap.Rate),
		styles.Value.Render(humanize.Comma(snap.Windowed)), delta(m.prevWindowed, snap.Windowed),
		styles.Subtle.Render(snap.Elapsed.Round(time.Second).String()))
	s.WriteString(styles.Box.Render(head))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RateLine.View()),
		styles.Box.Render(m.WindowedLine.View()),
	))
	s.WriteString("\n\n")

	s.WriteString(styles.Box.Render(workerTable(snap.Workers)))
	s.WriteString("\n\n")

	s.WriteString(styles.Subtle.Render(fmt.Sprintf("forks finished %d/%d", snap.Finished, snap.Total)))
	s.WriteString("\n")
	s.WriteString(m.Progress.View())
	return s.String()
}

func workerTable(workers []coordinator.WorkerView) string {
	var b strings.Builder
	b.WriteString(styles.TableHeader.Render(fmt.Sprintf("%-6s %12s %12s %12s  %s", "FORK", "TPS", "ROLLING", "DONE", "STATE")))
	for _, w := range workers {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%-6d %12s %12s %12s  %s",
			w.ID, humanize.Comma(w.Rate), humanize.Comma(w.Windowed),
			humanize.Comma(int64(w.Completed)), workerState(w)))
	}
	return b.String()
}

func workerState(w coordinator.WorkerView) string {
	switch {
	case w.Failed:
		return styles.Error.Render("failed")
	case w.Exited:
		return styles.Value.Render("done")
	case w.Reported:
		return styles.Active.Render("draining")
	default:
		return styles.Warn.Render("running")
	}
}

func delta(prev, cur int64) string {
	d := strings.TrimRight(stats.Delta(prev, cur), " ")
	if cur < prev {
		return styles.Down.Render(d)
	}
	return styles.Up.Render(d)
}
