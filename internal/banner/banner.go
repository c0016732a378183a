package banner

import (
	"forkbench/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

const ascii = `
   ___         __   __               __ 
  / _/__  ____/ /__/ /  ___ ___  ___/ / 
 / _/ _ \/ __/  '_/ _ \/ -_) _ \/ __/ _ \
/_/ \___/_/ /_/\_\_.__/\__/_//_/\__/_//_/`

// GetString returns the banner shown above the help text.
func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)
	return "\n" + style.Render(ascii) + "\n" + styles.Subtle.Render("  forked load generator for RPC services") + "\n"
}
