// Package tui is the optional live dashboard of a coordinator run.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"forkbench/internal/coordinator"
	"forkbench/internal/tui/live"
	"forkbench/internal/tui/result"
	"forkbench/internal/tui/styles"
)

// snapshotsClosedMsg means the coordinator has nothing more to report.
type snapshotsClosedMsg struct{}

type Model struct {
	Title     string
	snapshots <-chan coordinator.Snapshot
	cancel    func()

	Live     live.Model
	Result   result.Model
	Finished bool
	Quitting bool

	Width  int
	Height int
}

// NewModel builds a dashboard fed by snapshots. cancel is called when the
// user quits before the run is over.
func NewModel(title string, snapshots <-chan coordinator.Snapshot, cancel func()) Model {
	return Model{
		Title:     title,
		snapshots: snapshots,
		cancel:    cancel,
		Live:      live.NewModel(),
	}
}

func (m Model) Init() tea.Cmd {
	return waitForSnapshot(m.snapshots)
}

func waitForSnapshot(ch <-chan coordinator.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return snapshotsClosedMsg{}
		}
		return s
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		m.Result, _ = m.Result.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.Finished && m.cancel != nil {
				m.cancel()
			}
			m.Quitting = true
			return m, tea.Quit
		}

	case coordinator.Snapshot:
		if msg.Final != nil {
			m.Finished = true
			m.Result = result.NewModel(*msg.Final, msg.Elapsed)
			m.Result, _ = m.Result.Update(tea.WindowSizeMsg{Width: m.Width, Height: m.Height})
		}
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		return m, tea.Batch(cmd, waitForSnapshot(m.snapshots))

	case snapshotsClosedMsg:
		// Keep the result on screen until the user quits.
		return m, nil

	default:
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.Quitting {
		return ""
	}
	var s strings.Builder
	s.WriteString(styles.Title.Render(m.Title))
	s.WriteString("\n\n")
	if m.Finished {
		s.WriteString(m.Result.View())
		return s.String()
	}
	s.WriteString(m.Live.View())
	s.WriteString("\n")
	s.WriteString(styles.RenderKey("q", "stop"))
	return s.String()
}

// Run shows the dashboard until the user quits.
func Run(title string, snapshots <-chan coordinator.Snapshot, cancel func()) error {
	p := tea.NewProgram(NewModel(title, snapshots, cancel), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
