package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"forkbench/internal/cli"
	"forkbench/internal/eventloop"
	"forkbench/internal/ipc"
	"forkbench/internal/payload"
	"forkbench/internal/rpc"
	"forkbench/internal/stats"
)

// State is the lifecycle position of a Worker.
type State int32

const (
	Connecting State = iota
	Initializing
	Running
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Worker runs the configured workloads of one process against the service
// and reports laps and one final result to the coordinator.
type Worker struct {
	cfg     Config
	client  rpc.Client
	sender  ipc.Sender
	printer *cli.Printer
	log     *slog.Logger
	now     func() time.Time
	seed    int64

	state atomic.Int32
}

type WorkerOption func(*Worker)

func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

// WithSeed fixes the payload seed. The default derives it from the clock.
func WithSeed(seed int64) WorkerOption {
	return func(w *Worker) { w.seed = seed }
}

func NewWorker(cfg Config, client rpc.Client, sender ipc.Sender, printer *cli.Printer, log *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		cfg:     cfg,
		client:  client,
		sender:  sender,
		printer: printer,
		log:     log,
		now:     time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	if w.seed == 0 {
		w.seed = time.Now().UnixNano()
	}
	return w
}

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.log.Debug("worker state", "state", s.String())
}

// Run drives the worker through its whole lifecycle. It returns an error
// for a connection failure, a failed vote initialization or a fail-fast
// abort; the final report has been sent in the last case.
func (w *Worker) Run(ctx context.Context) error {
	defer w.setState(Terminated)
	defer w.client.Close()

	w.setState(Connecting)
	// Connect failures are reported by the caller.
	if err := w.client.Connect(ctx); err != nil {
		return err
	}

	w.setState(Initializing)
	if w.cfg.InitVote && w.hasKind(Vote) {
		if err := InitializeVote(ctx, w.client, w.log); err != nil {
			return err
		}
	}

	w.setState(Running)
	results, latency, err := w.runPipelines(ctx)
	if err != nil {
		return err
	}

	w.setState(Draining)
	return w.drain(results, latency)
}

func (w *Worker) hasKind(k Kind) bool {
	for _, s := range w.cfg.Workloads {
		if s.Kind == k {
			return true
		}
	}
	return false
}

// lapState tracks the rates of one pipeline between laps.
type lapState struct {
	tracker      *stats.RateTracker
	prevRate     int64
	prevWindowed int64
}

func (w *Worker) runPipelines(ctx context.Context) ([]PipelineResult, *stats.LatencyHistogram, error) {
	loop := eventloop.New()
	latency := stats.NewLatencyHistogram()
	results := make([]PipelineResult, 0, len(w.cfg.Workloads))
	pending := len(w.cfg.Workloads)
	if pending == 0 {
		return results, latency, nil
	}

	for i, spec := range w.cfg.Workloads {
		gen := payload.NewGenerator(spec.PayloadMode, w.cfg.Workers, w.cfg.WorkerID, w.seed+int64(i))
		laps := &lapState{tracker: stats.NewRateTracker(w.cfg.WindowCapacity)}
		p := NewPipeliner(loop, w.client, spec, PipelineOptions{
			MaxInFlight: w.cfg.MaxInFlight,
			Policy:      w.cfg.ErrorPolicy,
			Params:      paramsFor(spec.Kind, gen),
			Latency:     latency,
			Now:         w.now,
			OnLap:       func(l Lap) { w.lap(laps, l) },
			OnError: func(c RequestCycle, err error) {
				w.log.Debug("call failed", "procedure", c.Procedure, "seq", c.Seq, "err", err)
			},
		})
		p.Start(func(res PipelineResult) {
			results = append(results, res)
			pending--
			if pending == 0 {
				loop.Stop()
			}
		})
	}

	if err := loop.Run(ctx); err != nil {
		return nil, nil, fmt.Errorf("worker %d interrupted: %w", w.cfg.WorkerID, err)
	}
	return results, latency, nil
}

func paramsFor(k Kind, gen *payload.Generator) func() []any {
	switch k {
	case Read:
		return gen.Select
	case Vote:
		return gen.Vote
	default:
		return gen.Insert
	}
}

// lap runs on the loop goroutine.
func (w *Worker) lap(ls *lapState, l Lap) {
	r := ls.tracker.Record(l.DurationMs, l.Count)
	w.printer.Lap(cli.LapLine{
		Kind:         l.Kind.String(),
		Completed:    l.Completed,
		LapCount:     l.Count,
		LapMs:        l.DurationMs,
		Rate:         r.Instant,
		PrevRate:     ls.prevRate,
		Windowed:     r.Windowed,
		PrevWindowed: ls.prevWindowed,
		WindowCount:  r.WindowActs,
		WindowMs:     r.WindowMs,
	})
	ls.prevRate, ls.prevWindowed = r.Instant, r.Windowed

	msg := ipc.NewLap(w.cfg.WorkerID, ipc.LapReport{
		Kind:           l.Kind.String(),
		Completed:      l.Completed,
		Rate:           r.Instant,
		WindowedRate:   r.Windowed,
		WindowedSpanMs: r.WindowMs,
	})
	if err := w.sender.Send(msg); err != nil {
		w.log.Warn("lap report not delivered", "err", err)
	}
}

func (w *Worker) drain(results []PipelineResult, latency *stats.LatencyHistogram) error {
	report := ipc.FinalReport{
		Breakdown: make(map[string]float64, len(results)),
		Latency:   latency.Export(),
	}
	var failed error
	for _, res := range results {
		report.Throughput += res.Throughput
		report.Successes += res.Successes
		report.Errors += res.Errors
		report.Breakdown[res.Kind.String()] += res.Throughput
		w.printer.Finished(res.Kind.String(), res.Completed, res.Elapsed, res.Throughput)
		if res.Errors > 0 {
			w.log.Warn("calls failed", "kind", res.Kind.String(), "errors", res.Errors, "completed", res.Completed)
		}
		if res.Err != nil && failed == nil {
			failed = fmt.Errorf("%s aborted after %d of %d calls: %w", res.Kind, res.Completed, res.Issued, res.Err)
		}
	}

	if err := w.sender.Send(ipc.NewResult(w.cfg.WorkerID, report)); err != nil {
		return fmt.Errorf("send final report: %w", err)
	}

	if w.cfg.ConnectionStats {
		for _, s := range w.client.Stats() {
			w.log.Info("connection stats",
				"endpoint", s.Endpoint,
				"calls", s.Calls,
				"errors", s.Errors,
				"mean_latency", s.MeanLatency)
		}
	}
	return failed
}

// InitializeVote seeds the vote contest with the standard candidates.
func InitializeVote(ctx context.Context, c rpc.Caller, log *slog.Logger) error {
	res, err := rpc.CallSync(ctx, c, rpc.ProcInitialize, payload.CandidateCount, payload.CandidateList())
	if err != nil {
		return fmt.Errorf("initialize vote: %w", err)
	}
	n, _ := res.FirstValue("contestants")
	log.Info("vote initialized", "contestants", n)
	return nil
}
