package ipc

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestWireFormatIsFlatAndTagged(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Send(NewLap(3, LapReport{Kind: "write", Rate: 120, WindowedRate: 100, WindowedSpanMs: 2500})); err != nil {
		t.Fatalf("Send: %v", err)
	}

	line := buf.String()
	for _, want := range []string{`"cmd":"lap"`, `"workerId":3`, `"rate":120`, `"windowedRate":100`, `"windowedSpanMs":2500`} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %s missing %s", line, want)
		}
	}
	if strings.Contains(line, "throughput") {
		t.Fatalf("lap record leaked result fields: %s", line)
	}
}

func TestReaderSkipsMalformedRecords(t *testing.T) {
	input := strings.Join([]string{
		`{"cmd":"lap","workerId":1,"kind":"read","rate":5}`,
		`not json`,
		``,
		`{"cmd":"result","workerId":1,"throughput":42.5}`,
		`{"cmd":"shutdown","workerId":1}`,
	}, "\n")
	r := NewReader(strings.NewReader(input))

	m, err := r.Next()
	if err != nil || m.Cmd != CmdLap || m.LapReport == nil || m.LapReport.Rate != 5 {
		t.Fatalf("first: m=%+v err=%v", m, err)
	}

	_, err = r.Next()
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("second: err=%v want *DecodeError", err)
	}

	m, err = r.Next()
	if err != nil || m.Cmd != CmdResult || m.FinalReport == nil || m.FinalReport.Throughput != 42.5 {
		t.Fatalf("third: m=%+v err=%v", m, err)
	}
	if m.LapReport != nil {
		t.Fatalf("result message decoded a lap report: %+v", m.LapReport)
	}

	m, err = r.Next()
	if err != nil || m.Cmd != "shutdown" {
		t.Fatalf("unknown tags must still decode: m=%+v err=%v", m, err)
	}

	if _, err = r.Next(); err != io.EOF {
		t.Fatalf("err=%v want io.EOF", err)
	}
}
