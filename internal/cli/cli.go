// Package cli prints the human status lines of a run: per-lap progress of a
// worker, the coordinator's periodic aggregate and the final grand total.
package cli

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"forkbench/internal/logging"
	"forkbench/internal/stats"
	"forkbench/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// Printer writes tagged, timestamped lines. Safe for concurrent use.
type Printer struct {
	mu        sync.Mutex
	out       io.Writer
	tag       string
	verbosity logging.Verbosity
	now       func() time.Time

	value lipgloss.Style
	up    lipgloss.Style
	down  lipgloss.Style
	muted lipgloss.Style
	title lipgloss.Style
}

func New(out io.Writer, tag string, v logging.Verbosity) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:       out,
		tag:       tag,
		verbosity: v,
		now:       time.Now,
		value:     r.NewStyle().Foreground(styles.ColorSecondary).Bold(true),
		up:        r.NewStyle().Foreground(styles.ColorSecondary),
		down:      r.NewStyle().Foreground(styles.ColorError),
		muted:     r.NewStyle().Foreground(styles.ColorSubtle),
		title:     r.NewStyle().Foreground(styles.ColorPrimary).Bold(true),
	}
}

// SetClock replaces the timestamp source.
func (p *Printer) SetClock(now func() time.Time) { p.now = now }

func (p *Printer) Verbosity() logging.Verbosity { return p.verbosity }

// Linef prints regardless of verbosity.
func (p *Printer) Linef(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := p.now().Format("15:04:05.000")
	fmt.Fprintf(p.out, "%s %s: %s\n", p.muted.Render(ts), p.tag, fmt.Sprintf(format, args...))
}

// Infof prints unless the printer is quiet.
func (p *Printer) Infof(format string, args ...any) {
	if p.verbosity == logging.Quiet {
		return
	}
	p.Linef(format, args...)
}

// Header prints the run banner line.
func (p *Printer) Header(format string, args ...any) {
	if p.verbosity == logging.Quiet {
		return
	}
	p.Linef("%s", p.title.Render(fmt.Sprintf(format, args...)))
}

// LapLine is one lap of one pipeline, with the rates of the previous lap for
// the delta indicators.
type LapLine struct {
	Kind         string
	Completed    uint64
	LapCount     uint64
	LapMs        uint64
	Rate         int64
	PrevRate     int64
	Windowed     int64
	PrevWindowed int64
	WindowCount  uint64
	WindowMs     uint64
}

// Lap prints a compact line, a detailed pair of lines when verbose, and
// nothing when quiet.
func (p *Printer) Lap(l LapLine) {
	switch {
	case p.verbosity == logging.Quiet:
		return
	case p.verbosity.Detailed():
		p.Linef("%s %s in %s ms: %s TPS %s",
			p.num(l.LapCount), l.Kind, humanize.Comma(int64(l.LapMs)),
			p.num(l.Rate), p.delta(l.PrevRate, l.Rate))
		p.Linef("%s %s total, rolling %s in %s ms: %s TPS %s",
			p.num(l.Completed), l.Kind, humanize.Comma(int64(l.WindowCount)),
			humanize.Comma(int64(l.WindowMs)),
			p.num(l.Windowed), p.delta(l.PrevWindowed, l.Windowed))
	default:
		p.Linef("%s %s: %s TPS %s | avg %s: %s TPS %s",
			p.num(l.Completed), l.Kind,
			p.num(l.Rate), p.delta(l.PrevRate, l.Rate),
			humanize.Comma(int64(l.WindowCount)),
			p.num(l.Windowed), p.delta(l.PrevWindowed, l.Windowed))
	}
}

// Finished prints the end-of-pipeline summary of one worker.
func (p *Printer) Finished(kind string, completed uint64, elapsed time.Duration, tps float64) {
	p.Infof("%s %s in %s ms --> %s TPS",
		p.num(completed), kind, humanize.Comma(elapsed.Milliseconds()), p.num(int64(math.Round(tps))))
}

// StatusLine is the coordinator's periodic aggregate across workers.
type StatusLine struct {
	Rate         int64
	PrevRate     int64
	Windowed     int64
	PrevWindowed int64
	SpanMinutes  float64
	PerCore      int64
	Cores        int
	PerWorker    int64
	Workers      int
}

func (p *Printer) Status(s StatusLine) {
	if p.verbosity == logging.Quiet {
		return
	}
	p.Linef("%s TPS %s %.1f m avg: %s TPS %s %s TPS/core (%d) %s TPS/fork (%d)",
		p.num(s.Rate), p.delta(s.PrevRate, s.Rate),
		s.SpanMinutes,
		p.num(s.Windowed), p.delta(s.PrevWindowed, s.Windowed),
		p.num(s.PerCore), s.Cores,
		p.num(s.PerWorker), s.Workers)
}

// TotalLine is the grand total printed once every worker has exited.
type TotalLine struct {
	Total     int64
	PerCore   int64
	Cores     int
	PerWorker int64
	Workers   int
	Successes uint64
	Errors    uint64
	Failed    int
	P50       time.Duration
	P99       time.Duration
}

// Total always prints, even when quiet.
func (p *Printer) Total(t TotalLine) {
	p.Linef("total %s TPS, %s TPS/core (%d), %s TPS/fork (%d)",
		p.num(t.Total), p.num(t.PerCore), t.Cores, p.num(t.PerWorker), t.Workers)
	if p.verbosity == logging.Quiet {
		return
	}
	p.Linef("%s ok, %s errors, p50 %s, p99 %s",
		humanize.Comma(int64(t.Successes)), humanize.Comma(int64(t.Errors)),
		t.P50.Round(time.Microsecond), t.P99.Round(time.Microsecond))
	if t.Failed > 0 {
		p.Linef("%s", p.down.Render(fmt.Sprintf("%d of %d forks failed", t.Failed, t.Workers)))
	}
}

func (p *Printer) num(n any) string {
	switch v := n.(type) {
	case int64:
		return p.value.Render(humanize.Comma(v))
	case uint64:
		return p.value.Render(humanize.Comma(int64(v)))
	case int:
		return p.value.Render(humanize.Comma(int64(v)))
	default:
		return p.value.Render(fmt.Sprint(v))
	}
}

func (p *Printer) delta(prev, cur int64) string {
	d := stats.Delta(prev, cur)
	marks := strings.TrimRight(d, " ")
	pad := d[len(marks):]
	if cur < prev {
		return p.down.Render(marks) + pad
	}
	return p.up.Render(marks) + pad
}
