package result

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"forkbench/internal/coordinator"
	"forkbench/internal/tui/styles"
)

// Model shows the grand total once every worker has exited.
type Model struct {
	Summary coordinator.Summary
	Elapsed time.Duration

	Width  int
	Height int
}

func NewModel(s coordinator.Summary, elapsed time.Duration) Model {
	return Model{Summary: s, Elapsed: elapsed}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder
	sum := m.Summary

	s.WriteString(styles.Title.Render("Run complete"))
	s.WriteString("\n\n")

	s.WriteString(styles.Active.Render("Throughput"))
	s.WriteString("\n")
	s.WriteString(styles.Box.Render(fmt.Sprintf(
		"Total:     %s TPS\nPer core:  %s TPS (%d cores)\nPer fork:  %s TPS (%d forks)\nElapsed:   %s",
		humanize.Comma(sum.Total),
		humanize.Comma(sum.PerCore), sum.Cores,
		humanize.Comma(sum.PerWorker), sum.Workers,
		m.Elapsed.Round(time.Millisecond),
	)))
	s.WriteString("\n\n")

	s.WriteString(styles.Active.Render("Calls"))
	s.WriteString("\n")
	calls := fmt.Sprintf("Succeeded: %s\nFailed:    %s\nP50:       %s\nP99:       %s",
		humanize.Comma(int64(sum.Successes)), humanize.Comma(int64(sum.Errors)),
		sum.P50.Round(time.Microsecond), sum.P99.Round(time.Microsecond))
	if sum.Failed > 0 {
		calls += "\n" + styles.Error.Render(fmt.Sprintf("%d of %d forks failed", sum.Failed, sum.Workers))
	}
	s.WriteString(styles.Box.Render(calls))

	s.WriteString("\n\n")
	s.WriteString(styles.RenderKey("q", "quit"))
	return s.String()
}
