// Package logging builds the slog loggers shared by the coordinator and its
// workers.
package logging

import (
	"io"
	"log/slog"
	"strconv"
)

// Verbosity is the console chattiness selected on the command line.
type Verbosity int

const (
	Quiet Verbosity = iota
	Normal
	Verbose
	Debug
)

func (v Verbosity) String() string {
	switch v {
	case Quiet:
		return "quiet"
	case Verbose:
		return "verbose"
	case Debug:
		return "debug"
	default:
		return "normal"
	}
}

// FromFlags resolves the three verbosity switches. Debug wins over verbose,
// which wins over quiet.
func FromFlags(quiet, verbose, debug bool) Verbosity {
	switch {
	case debug:
		return Debug
	case verbose:
		return Verbose
	case quiet:
		return Quiet
	default:
		return Normal
	}
}

// Level maps a verbosity onto a slog level.
func (v Verbosity) Level() slog.Level {
	switch v {
	case Quiet:
		return slog.LevelWarn
	case Debug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Detailed reports whether per-lap output should use the long form.
func (v Verbosity) Detailed() bool { return v >= Verbose }

// New returns a text logger writing to w at the level implied by v.
func New(w io.Writer, v Verbosity) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: v.Level()}))
}

// CoordinatorTag is the tag attached to coordinator output.
func CoordinatorTag(runID string) string {
	return prefix(runID) + "master"
}

// WorkerTag is the tag attached to output of worker n.
func WorkerTag(runID string, n int) string {
	return prefix(runID) + "fork " + strconv.Itoa(n)
}

func prefix(runID string) string {
	if runID == "" {
		return ""
	}
	return runID + " "
}

// WithTag returns l with a "tag" attribute.
func WithTag(l *slog.Logger, tag string) *slog.Logger {
	return l.With(slog.String("tag", tag))
}
