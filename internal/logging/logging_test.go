package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestFromFlagsPrecedence(t *testing.T) {
	tests := []struct {
		quiet, verbose, debug bool
		want                  Verbosity
	}{
		{false, false, false, Normal},
		{true, false, false, Quiet},
		{true, true, false, Verbose},
		{true, true, true, Debug},
		{false, false, true, Debug},
	}
	for _, tt := range tests {
		if got := FromFlags(tt.quiet, tt.verbose, tt.debug); got != tt.want {
			t.Errorf("FromFlags(%v,%v,%v)=%v want %v", tt.quiet, tt.verbose, tt.debug, got, tt.want)
		}
	}
}

func TestLevels(t *testing.T) {
	if Quiet.Level() != slog.LevelWarn || Normal.Level() != slog.LevelInfo || Debug.Level() != slog.LevelDebug {
		t.Fatal("unexpected level mapping")
	}
	if Normal.Detailed() || !Verbose.Detailed() {
		t.Fatal("unexpected detail mapping")
	}
}

func TestTags(t *testing.T) {
	if got := CoordinatorTag(""); got != "master" {
		t.Errorf("got %q", got)
	}
	if got := WorkerTag("run7", 3); got != "run7 fork 3" {
		t.Errorf("got %q", got)
	}
}

func TestQuietLoggerDropsInfo(t *testing.T) {
	var buf bytes.Buffer
	l := WithTag(New(&buf, Quiet), "master")
	l.Info("hidden")
	l.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") || !strings.Contains(out, "tag=master") {
		t.Fatalf("output %q", out)
	}
}
