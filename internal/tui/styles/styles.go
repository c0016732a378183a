package styles

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette shared by the dashboard, the console printer and the banner.
var (
	ColorPrimary   = lipgloss.Color("#7D56F4")
	ColorSecondary = lipgloss.Color("#04B575")
	ColorError     = lipgloss.Color("#FF5F87")
	ColorWarning   = lipgloss.Color("#FFAF00")
	ColorText      = lipgloss.Color("#FAFAFA")
	ColorSubtle    = lipgloss.Color("#767676")
	ColorBorder    = lipgloss.Color("#3C3C3C")
	ColorBanner    = lipgloss.Color("#7D56F4")
)

var (
	Title = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true).
		Padding(0, 1).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(ColorSubtle)

	Text   = lipgloss.NewStyle().Foreground(ColorText)
	Subtle = lipgloss.NewStyle().Foreground(ColorSubtle)

	Value  = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)
	Active = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)

	Error = lipgloss.NewStyle().Foreground(ColorError)
	Warn  = lipgloss.NewStyle().Foreground(ColorWarning)

	// Rising and falling rates.
	Up   = lipgloss.NewStyle().Foreground(ColorSecondary)
	Down = lipgloss.NewStyle().Foreground(ColorError)

	KeyKey  = lipgloss.NewStyle().Foreground(ColorText).Bold(true)
	KeyDesc = lipgloss.NewStyle().Foreground(ColorSubtle)

	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1).
		Margin(0, 1)

	TableHeader = lipgloss.NewStyle().Foreground(ColorSubtle).Bold(true)
)

func RenderKey(key, desc string) string {
	return lipgloss.JoinHorizontal(lipgloss.Center,
		KeyKey.Render("<"+key+">"),
		" ",
		KeyDesc.Render(desc),
	)
}
