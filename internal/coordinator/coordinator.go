// Package coordinator starts the workers of a run, folds their lap and final
// reports into one process-wide view, prints a periodic aggregate and the
// grand total once every worker has exited.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"forkbench/internal/cli"
	"forkbench/internal/eventloop"
	"forkbench/internal/ipc"
)

type Config struct {
	Workers        int
	StatusInterval time.Duration
	// Cores divides the grand total. Zero means runtime.NumCPU().
	Cores int
}

// Snapshot is pushed to an optional observer after every status tick and
// once more with Final set when the run is over.
type Snapshot struct {
	Rate     int64
	Windowed int64
	Workers  []WorkerView
	Finished int
	Total    int
	Elapsed  time.Duration
	Final    *Summary
}

type Coordinator struct {
	cfg     Config
	spawner Spawner
	printer *cli.Printer
	log     *slog.Logger

	state     *State
	loop      *eventloop.Loop
	stopTick  func()
	started   time.Time
	snapshots chan<- Snapshot

	prevRate     int64
	prevWindowed int64
	summary      Summary
}

type Option func(*Coordinator)

const finalSnapshotWait = 2 * time.Second

// WithSnapshots sends snapshots to ch without blocking; a full channel drops
// the update. The final snapshot waits up to finalSnapshotWait for room, then
// ch is closed.
func WithSnapshots(ch chan<- Snapshot) Option {
	return func(c *Coordinator) { c.snapshots = ch }
}

func New(cfg Config, sp Spawner, printer *cli.Printer, log *slog.Logger, opts ...Option) *Coordinator {
	if cfg.Cores < 1 {
		cfg.Cores = runtime.NumCPU()
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	c := &Coordinator{
		cfg:     cfg,
		spawner: sp,
		printer: printer,
		log:     log,
		state:   NewState(cfg.Workers),
		loop:    eventloop.New(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run spawns every worker and blocks until all of them have exited or ctx
// is cancelled. Workers that fail are logged and counted in the summary.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	c.started = time.Now()
	if c.cfg.Workers < 1 {
		c.finish()
		return c.summary, nil
	}

	for id := 0; id < c.cfg.Workers; id++ {
		id := id
		err := c.spawner.Spawn(ctx, id, WorkerEvents{
			OnMessage: func(m ipc.Message) { c.loop.Post(func() { c.handle(id, m) }) },
			OnError: func(err error) {
				c.loop.Post(func() { c.log.Warn("bad report", "worker", id, "err", err) })
			},
			OnExit: func(err error) { c.loop.Post(func() { c.exited(id, err) }) },
		})
		if err != nil {
			c.log.Error("worker did not start", "worker", id, "err", err)
			c.loop.Post(func() { c.exited(id, err) })
		}
	}

	c.stopTick = c.loop.Every(c.cfg.StatusInterval, c.tick)
	defer c.stopTick()

	if err := c.loop.Run(ctx); err != nil {
		c.closeSnapshots()
		return c.state.Total(c.cfg.Cores), err
	}
	return c.summary, nil
}

func (c *Coordinator) handle(channelID int, m ipc.Message) {
	if m.WorkerID != channelID {
		c.log.Debug("report worker id differs from its channel", "channel", channelID, "reported", m.WorkerID)
	}

	var err error
	switch m.Cmd {
	case ipc.CmdLap:
		if m.LapReport == nil {
			err = &ProtocolViolation{WorkerID: channelID, Reason: "lap without payload"}
			break
		}
		err = c.state.ApplyLap(channelID, *m.LapReport)
	case ipc.CmdResult:
		if m.FinalReport == nil {
			err = &ProtocolViolation{WorkerID: channelID, Reason: "result without payload"}
			break
		}
		err = c.state.ApplyResult(channelID, *m.FinalReport)
		if err == nil {
			c.log.Debug("worker finished", "worker", channelID, "throughput", m.Throughput)
		}
	default:
		c.log.Warn("ignoring unknown report", "worker", channelID, "cmd", m.Cmd)
	}

	var pv *ProtocolViolation
	if errors.As(err, &pv) {
		c.log.Warn("protocol violation", "worker", pv.WorkerID, "reason", pv.Reason)
	} else if err != nil {
		c.log.Warn("report rejected", "worker", channelID, "err", err)
	}
}

func (c *Coordinator) exited(id int, exitErr error) {
	early, err := c.state.WorkerExited(id, exitErr)
	if err != nil {
		c.log.Warn("worker exit", "worker", id, "err", err)
		return
	}
	switch {
	case early:
		c.log.Error("worker exited without a final report", "worker", id, "err", exitErr)
	case exitErr != nil:
		c.log.Warn("worker exited with error", "worker", id, "err", exitErr)
	default:
		c.log.Debug("worker exited", "worker", id)
	}

	if c.state.Done() {
		c.finish()
		c.loop.Stop()
	}
}

func (c *Coordinator) tick() {
	if c.state.Active() == 0 {
		if c.stopTick != nil {
			c.stopTick()
		}
		return
	}
	agg := c.state.Aggregate()
	if agg.Rate != 0 {
		c.printer.Status(cli.StatusLine{
			Rate:         agg.Rate,
			PrevRate:     c.prevRate,
			Windowed:     agg.Windowed,
			PrevWindowed: c.prevWindowed,
			SpanMinutes:  agg.SpanMs / float64(time.Minute/time.Millisecond),
			PerCore:      share(float64(agg.Windowed), c.cfg.Cores),
			Cores:        c.cfg.Cores,
			PerWorker:    share(float64(agg.Windowed), c.cfg.Workers),
			Workers:      c.cfg.Workers,
		})
		c.prevRate, c.prevWindowed = agg.Rate, agg.Windowed
	}
	c.publish(Snapshot{
		Rate:     agg.Rate,
		Windowed: agg.Windowed,
		Workers:  c.state.Workers(),
		Finished: c.state.Completed(),
		Total:    c.cfg.Workers,
		Elapsed:  time.Since(c.started),
	}, false)
}

func (c *Coordinator) finish() {
	c.summary = c.state.Total(c.cfg.Cores)
	s := c.summary
	c.printer.Total(cli.TotalLine{
		Total:     s.Total,
		PerCore:   s.PerCore,
		Cores:     s.Cores,
		PerWorker: s.PerWorker,
		Workers:   s.Workers,
		Successes: s.Successes,
		Errors:    s.Errors,
		Failed:    s.Failed,
		P50:       s.P50,
		P99:       s.P99,
	})
	c.publish(Snapshot{
		Workers:  c.state.Workers(),
		Finished: c.state.Completed(),
		Total:    c.cfg.Workers,
		Elapsed:  time.Since(c.started),
		Final:    &s,
	}, true)
	c.closeSnapshots()
}

func (c *Coordinator) publish(s Snapshot, final bool) {
	if c.snapshots == nil {
		return
	}
	if final {
		select {
		case c.snapshots <- s:
		case <-time.After(finalSnapshotWait):
			c.log.Debug("final snapshot dropped")
		}
		return
	}
	select {
	case c.snapshots <- s:
	default:
	}
}

func (c *Coordinator) closeSnapshots() {
	if c.snapshots != nil {
		close(c.snapshots)
		c.snapshots = nil
	}
}
