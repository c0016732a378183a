package coordinator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"forkbench/internal/ipc"
	"forkbench/internal/stats"
)

// ProtocolViolation is a report a worker should never have sent. It is
// logged and otherwise ignored.
type ProtocolViolation struct {
	WorkerID int
	Reason   string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation from worker %d: %s", e.WorkerID, e.Reason)
}

type workerSlot struct {
	laps   map[string]ipc.LapReport
	final  *ipc.FinalReport
	exited bool
	exit   error
}

// State is the coordinator's view of the run. It is owned by the
// coordinator loop and must not be touched from other goroutines.
type State struct {
	totalWorkers int
	workers      []workerSlot

	throughput float64
	successes  uint64
	errors     uint64
	completed  int
	latency    *stats.LatencyHistogram
}

func NewState(totalWorkers int) *State {
	return &State{
		totalWorkers: totalWorkers,
		workers:      make([]workerSlot, totalWorkers),
		latency:      stats.NewLatencyHistogram(),
	}
}

func (s *State) slot(id int) (*workerSlot, error) {
	if id < 0 || id >= len(s.workers) {
		return nil, &ProtocolViolation{WorkerID: id, Reason: "unknown worker id"}
	}
	return &s.workers[id], nil
}

// ApplyLap keeps the latest lap per worker and workload kind.
func (s *State) ApplyLap(id int, lap ipc.LapReport) error {
	w, err := s.slot(id)
	if err != nil {
		return err
	}
	if w.exited {
		return &ProtocolViolation{WorkerID: id, Reason: "lap after exit"}
	}
	if w.laps == nil {
		w.laps = make(map[string]ipc.LapReport)
	}
	w.laps[lap.Kind] = lap
	return nil
}

// ApplyResult accumulates a worker's final report. A second report from the
// same worker is rejected and does not change any total.
func (s *State) ApplyResult(id int, res ipc.FinalReport) error {
	w, err := s.slot(id)
	if err != nil {
		return err
	}
	if w.final != nil {
		return &ProtocolViolation{WorkerID: id, Reason: "duplicate final report"}
	}
	w.final = &res
	s.throughput += res.Throughput
	s.successes += res.Successes
	s.errors += res.Errors
	s.latency.Merge(res.Latency)
	return nil
}

// WorkerExited records the end of a worker process. It reports whether the
// worker went away before delivering its final report.
func (s *State) WorkerExited(id int, exitErr error) (early bool, err error) {
	w, err := s.slot(id)
	if err != nil {
		return false, err
	}
	if w.exited {
		return false, &ProtocolViolation{WorkerID: id, Reason: "exited twice"}
	}
	w.exited = true
	w.exit = exitErr
	w.laps = nil
	s.completed++
	return w.final == nil, nil
}

func (s *State) Done() bool { return s.completed >= s.totalWorkers }

// Active is the number of workers that have not exited.
func (s *State) Active() int { return s.totalWorkers - s.completed }

func (s *State) Completed() int { return s.completed }

func (s *State) Throughput() float64 { return s.throughput }

// Aggregate is the sum of the latest laps of every running worker.
type Aggregate struct {
	Rate     int64
	Windowed int64
	// SpanMs is the mean windowed span across the summed laps.
	SpanMs  float64
	Tracked int
}

func (s *State) Aggregate() Aggregate {
	var (
		a    Aggregate
		span uint64
	)
	for i := range s.workers {
		for _, lap := range s.workers[i].laps {
			a.Rate += lap.Rate
			a.Windowed += lap.WindowedRate
			span += lap.WindowedSpanMs
			a.Tracked++
		}
	}
	if a.Tracked > 0 {
		a.SpanMs = float64(span) / float64(a.Tracked)
	}
	return a
}

// WorkerView is one worker as seen by the coordinator.
type WorkerView struct {
	ID        int
	Rate      int64
	Windowed  int64
	Completed uint64
	Reported  bool
	Exited    bool
	Failed    bool
}

// Workers returns a view per worker in id order.
func (s *State) Workers() []WorkerView {
	out := make([]WorkerView, len(s.workers))
	for i := range s.workers {
		w := &s.workers[i]
		v := WorkerView{ID: i, Reported: w.final != nil, Exited: w.exited}
		v.Failed = w.exited && (w.final == nil || w.exit != nil)
		kinds := make([]string, 0, len(w.laps))
		for k := range w.laps {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			lap := w.laps[k]
			v.Rate += lap.Rate
			v.Windowed += lap.WindowedRate
			v.Completed += lap.Completed
		}
		out[i] = v
	}
	return out
}

// Summary is the grand total of a finished run.
type Summary struct {
	Throughput float64
	Total      int64
	PerCore    int64
	PerWorker  int64
	Cores      int
	Workers    int
	Failed     int
	Successes  uint64
	Errors     uint64
	P50        time.Duration
	P99        time.Duration
}

// Total computes the grand total: round(sum of throughputs), and that total
// divided per core and per worker.
func (s *State) Total(cores int) Summary {
	if cores < 1 {
		cores = 1
	}
	total := math.Round(s.throughput)
	sum := Summary{
		Throughput: s.throughput,
		Total:      int64(total),
		PerCore:    share(total, cores),
		Cores:      cores,
		Workers:    s.totalWorkers,
		Successes:  s.successes,
		Errors:     s.errors,
		P50:        s.latency.Quantile(50),
		P99:        s.latency.Quantile(99),
	}
	sum.PerWorker = share(total, s.totalWorkers)
	for i := range s.workers {
		w := &s.workers[i]
		if w.exited && (w.final == nil || w.exit != nil) {
			sum.Failed++
		}
	}
	return sum
}

// share is round(total/n), or 0 when n is not positive.
func share(total float64, n int) int64 {
	if n < 1 {
		return 0
	}
	return int64(math.Round(total / float64(n)))
}
