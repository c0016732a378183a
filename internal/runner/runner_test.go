package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"forkbench/internal/cli"
	"forkbench/internal/eventloop"
	"forkbench/internal/ipc"
	"forkbench/internal/logging"
	"forkbench/internal/rpc"
)

// fakeClient accepts every call at once and completes it after delay on
// its own goroutine. failAt marks 1-based call numbers that fail.
type fakeClient struct {
	delay      time.Duration
	failAt     func(n uint64) bool
	connectErr error

	calls    atomic.Uint64
	inflight atomic.Int64
	maxSeen  atomic.Int64

	mu    sync.Mutex
	procs []string
}

func (f *fakeClient) Connect(context.Context) error { return f.connectErr }
func (f *fakeClient) Stats() []rpc.EndpointStats     { return nil }
func (f *fakeClient) Close() error                   { return nil }

func (f *fakeClient) Call(proc string, params []any, onComplete rpc.CompleteFunc, onAccepted rpc.AcceptFunc) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.procs = append(f.procs, proc)
	f.mu.Unlock()

	cur := f.inflight.Add(1)
	for {
		m := f.maxSeen.Load()
		if cur <= m || f.maxSeen.CompareAndSwap(m, cur) {
			break
		}
	}
	go func() {
		onAccepted()
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		f.inflight.Add(-1)
		var err error
		if f.failAt != nil && f.failAt(n) {
			err = &rpc.CallError{Procedure: proc, Status: rpc.StatusError, Message: "boom"}
		}
		onComplete(rpc.Result{Rows: []map[string]any{{"contestants": 6}}}, err)
	}()
}

func (f *fakeClient) procedures() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.procs...)
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []ipc.Message
}

func (s *recordingSender) Send(m ipc.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *recordingSender) messages() []ipc.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ipc.Message(nil), s.msgs...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runPipeline(t *testing.T, c rpc.Caller, spec WorkloadSpec, opts PipelineOptions) (PipelineResult, int) {
	t.Helper()
	loop := eventloop.New()
	var (
		res   PipelineResult
		fired int
	)
	NewPipeliner(loop, c, spec, opts).Start(func(r PipelineResult) {
		res = r
		fired++
		loop.Post(loop.Stop)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("loop: %v", err)
	}
	return res, fired
}

func TestPipelineIssuesExactlyLoopCountWithinCap(t *testing.T) {
	tests := []struct {
		loops uint64
		cap   int
	}{
		{1, 1},
		{50, 1},
		{500, 4},
		{1000, 20},
	}
	for _, tt := range tests {
		c := &fakeClient{delay: 200 * time.Microsecond}
		res, fired := runPipeline(t, c, WorkloadSpec{Kind: Write, LoopCount: tt.loops}, PipelineOptions{MaxInFlight: tt.cap})

		if fired != 1 {
			t.Fatalf("L=%d K=%d: completion fired %d times", tt.loops, tt.cap, fired)
		}
		if got := c.calls.Load(); got != tt.loops {
			t.Fatalf("L=%d K=%d: issued %d calls", tt.loops, tt.cap, got)
		}
		if res.Completed != tt.loops || res.Issued != tt.loops || res.Successes != tt.loops {
			t.Fatalf("L=%d K=%d: result %+v", tt.loops, tt.cap, res)
		}
		if m := c.maxSeen.Load(); m > int64(tt.cap) {
			t.Fatalf("L=%d K=%d: %d calls in flight", tt.loops, tt.cap, m)
		}
	}
}

func TestPipelineZeroLoopsCompletesImmediately(t *testing.T) {
	c := &fakeClient{}
	res, fired := runPipeline(t, c, WorkloadSpec{Kind: Read}, PipelineOptions{MaxInFlight: 8})
	if fired != 1 || res.Issued != 0 || res.Completed != 0 || c.calls.Load() != 0 {
		t.Fatalf("fired=%d res=%+v calls=%d", fired, res, c.calls.Load())
	}
	if res.Throughput != 0 {
		t.Fatalf("throughput %v", res.Throughput)
	}
}

func TestPipelineContinuesThroughErrors(t *testing.T) {
	c := &fakeClient{failAt: func(n uint64) bool { return n%10 == 0 }}
	var seen atomic.Int32
	res, _ := runPipeline(t, c, WorkloadSpec{Kind: Write, LoopCount: 100}, PipelineOptions{
		MaxInFlight: 5,
		OnError:     func(RequestCycle, error) { seen.Add(1) },
	})
	if res.Completed != 100 || res.Errors != 10 || res.Successes != 90 || res.Err != nil {
		t.Fatalf("result %+v", res)
	}
	if seen.Load() != 10 {
		t.Fatalf("OnError fired %d times", seen.Load())
	}
}

func TestPipelineFailFastDrainsInFlight(t *testing.T) {
	c := &fakeClient{delay: 100 * time.Microsecond, failAt: func(n uint64) bool { return n == 5 }}
	res, fired := runPipeline(t, c, WorkloadSpec{Kind: Vote, LoopCount: 1000}, PipelineOptions{
		MaxInFlight: 4,
		Policy:      FailFast,
	})
	if fired != 1 {
		t.Fatalf("completion fired %d times", fired)
	}
	var ce *rpc.CallError
	if !errors.As(res.Err, &ce) {
		t.Fatalf("err=%v want *rpc.CallError", res.Err)
	}
	if res.Completed >= 1000 || res.Completed != res.Issued {
		t.Fatalf("fail-fast should stop early with nothing in flight: %+v", res)
	}
	if res.Errors != 1 {
		t.Fatalf("errors %d", res.Errors)
	}
}

func TestPipelineLapsEveryN(t *testing.T) {
	c := &fakeClient{}
	var laps []Lap
	res, _ := runPipeline(t, c, WorkloadSpec{Kind: Write, LoopCount: 100, LogEveryN: 25}, PipelineOptions{
		MaxInFlight: 3,
		OnLap:       func(l Lap) { laps = append(laps, l) },
	})
	if res.Completed != 100 {
		t.Fatalf("completed %d", res.Completed)
	}
	if len(laps) != 4 {
		t.Fatalf("got %d laps want 4", len(laps))
	}
	for i, l := range laps {
		if l.Completed != uint64(25*(i+1)) || l.Count != 25 {
			t.Fatalf("lap %d: %+v", i, l)
		}
	}
}

func TestPipelineThroughputUsesClock(t *testing.T) {
	var ticks atomic.Int64
	now := func() time.Time {
		return time.Unix(0, 0).Add(time.Duration(ticks.Add(1)) * time.Millisecond)
	}
	c := &fakeClient{}
	res, _ := runPipeline(t, c, WorkloadSpec{Kind: Write, LoopCount: 10}, PipelineOptions{Now: now})
	ms := res.Elapsed.Milliseconds()
	if ms <= 0 {
		t.Fatalf("elapsed %v", res.Elapsed)
	}
	if want := float64(10) * 1000 / float64(ms); res.Throughput != want {
		t.Fatalf("throughput %v want %v", res.Throughput, want)
	}
}

func newTestWorker(cfg Config, c rpc.Client, s ipc.Sender) *Worker {
	p := cli.New(io.Discard, logging.WorkerTag("", cfg.WorkerID), logging.Normal)
	return NewWorker(cfg, c, s, p, discardLogger(), WithSeed(7))
}

func TestWorkerReportsLapsThenOneResult(t *testing.T) {
	c := &fakeClient{}
	s := &recordingSender{}
	w := newTestWorker(Config{
		WorkerID:       1,
		Workers:        2,
		Workloads:      []WorkloadSpec{{Kind: Write, LoopCount: 100, LogEveryN: 25}},
		MaxInFlight:    4,
		WindowCapacity: 10,
	}, c, s)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if w.State() != Terminated {
		t.Fatalf("state %v", w.State())
	}

	msgs := s.messages()
	if len(msgs) != 5 {
		t.Fatalf("got %d messages want 5", len(msgs))
	}
	for i, m := range msgs[:4] {
		if m.Cmd != ipc.CmdLap || m.WorkerID != 1 || m.LapReport.Completed != uint64(25*(i+1)) {
			t.Fatalf("message %d: %+v", i, m)
		}
	}
	last := msgs[4]
	if last.Cmd != ipc.CmdResult || last.FinalReport == nil {
		t.Fatalf("last message %+v", last)
	}
	if last.Successes != 100 || last.Throughput <= 0 || last.Breakdown["writes"] != last.Throughput {
		t.Fatalf("final report %+v", last.FinalReport)
	}
	if last.Latency == nil {
		t.Fatal("final report carries no latency snapshot")
	}
}

func TestWorkerMultipleWorkloadsSendOneResult(t *testing.T) {
	c := &fakeClient{}
	s := &recordingSender{}
	w := newTestWorker(Config{
		Workers: 1,
		Workloads: []WorkloadSpec{
			{Kind: Write, LoopCount: 40, LogEveryN: 20},
			{Kind: Read, LoopCount: 60, LogEveryN: 20},
		},
		MaxInFlight:    2,
		WindowCapacity: 1,
	}, c, s)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var laps, results int
	kinds := map[string]int{}
	for _, m := range s.messages() {
		switch m.Cmd {
		case ipc.CmdLap:
			laps++
			kinds[m.Kind]++
		case ipc.CmdResult:
			results++
			if len(m.Breakdown) != 2 {
				t.Fatalf("breakdown %v", m.Breakdown)
			}
		}
	}
	if laps != 5 || results != 1 || kinds["writes"] != 2 || kinds["reads"] != 3 {
		t.Fatalf("laps=%d results=%d kinds=%v", laps, results, kinds)
	}
	if got := c.calls.Load(); got != 100 {
		t.Fatalf("calls %d", got)
	}
}

func TestWorkerConnectFailure(t *testing.T) {
	c := &fakeClient{connectErr: &rpc.ConnectionError{Endpoints: []string{"nowhere:1"}, Err: errors.New("refused")}}
	s := &recordingSender{}
	var logs bytes.Buffer
	cfg := Config{Workers: 1, Workloads: []WorkloadSpec{{Kind: Write, LoopCount: 10}}}
	p := cli.New(io.Discard, logging.WorkerTag("", 0), logging.Normal)
	w := NewWorker(cfg, c, s, p, slog.New(slog.NewTextHandler(&logs, nil)), WithSeed(7))

	err := w.Run(context.Background())
	var ce *rpc.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("err=%v want *rpc.ConnectionError", err)
	}
	if len(s.messages()) != 0 || c.calls.Load() != 0 {
		t.Fatal("worker issued work after a failed connect")
	}
	if w.State() != Terminated {
		t.Fatalf("state %v", w.State())
	}
	if logs.Len() != 0 {
		t.Fatalf("connect failure logged by the worker as well: %s", logs.String())
	}
}

func TestWorkerInitializesVoteFirst(t *testing.T) {
	c := &fakeClient{}
	s := &recordingSender{}
	w := newTestWorker(Config{
		Workers:   1,
		Workloads: []WorkloadSpec{{Kind: Vote, LoopCount: 5}},
		InitVote:  true,
	}, c, s)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	procs := c.procedures()
	if len(procs) != 6 || procs[0] != rpc.ProcInitialize {
		t.Fatalf("procedures %v", procs)
	}
	for _, p := range procs[1:] {
		if p != rpc.ProcVote {
			t.Fatalf("procedures %v", procs)
		}
	}
}

func TestWorkerFailFastStillSendsResult(t *testing.T) {
	c := &fakeClient{failAt: func(n uint64) bool { return n == 3 }}
	s := &recordingSender{}
	w := newTestWorker(Config{
		Workers:     1,
		Workloads:   []WorkloadSpec{{Kind: Write, LoopCount: 1000}},
		MaxInFlight: 1,
		ErrorPolicy: FailFast,
	}, c, s)

	if err := w.Run(context.Background()); err == nil {
		t.Fatal("fail-fast run returned nil")
	}
	msgs := s.messages()
	if len(msgs) != 1 || msgs[0].Cmd != ipc.CmdResult || msgs[0].Errors != 1 || msgs[0].Successes != 2 {
		t.Fatalf("messages %+v", msgs)
	}
}

func TestParseErrorPolicy(t *testing.T) {
	for in, want := range map[string]ErrorPolicy{"": ContinueOnError, "continue": ContinueOnError, "Fail-Fast": FailFast} {
		got, err := ParseErrorPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseErrorPolicy(%q)=%v,%v", in, got, err)
		}
	}
	if _, err := ParseErrorPolicy("retry"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
