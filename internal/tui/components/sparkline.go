package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var levels = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// Sparkline is a one-row scrolling chart of the last Width values.
type Sparkline struct {
	Data  []int64
	Width int
	Max   int64
	Style lipgloss.Style
	Label string
}

func NewSparkline(width int, label string, style lipgloss.Style) Sparkline {
	return Sparkline{
		Width: width,
		Label: label,
		Style: style,
		Data:  make([]int64, 0, width),
	}
}

// Add appends v, dropping the oldest value once the chart is full. Negative
// values are drawn as zero.
func (s *Sparkline) Add(v int64) {
	if v < 0 {
		v = 0
	}
	s.Data = append(s.Data, v)
	if s.Width > 0 && len(s.Data) > s.Width {
		s.Data = s.Data[len(s.Data)-s.Width:]
	}
	s.Max = 0
	for _, d := range s.Data {
		if d > s.Max {
			s.Max = d
		}
	}
}

// Last returns the newest value, or 0.
func (s Sparkline) Last() int64 {
	if len(s.Data) == 0 {
		return 0
	}
	return s.Data[len(s.Data)-1]
}

// Graph renders only the bars, padded to Width.
func (s Sparkline) Graph() string {
	var b strings.Builder
	for _, v := range s.Data {
		idx := 0
		if s.Max > 0 {
			idx = int(float64(v) / float64(s.Max) * float64(len(levels)-1))
		}
		if idx >= len(levels) {
			idx = len(levels) - 1
		}
		b.WriteString(levels[idx])
	}
	if pad := s.Width - len(s.Data); pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	return b.String()
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}
	head := s.Label + " " + humanize.Comma(s.Last())
	return s.Style.Render(head) + "\n" + s.Style.Render(s.Graph())
}
