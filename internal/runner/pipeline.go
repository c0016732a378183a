package runner

import (
	"sync"
	"time"

	"forkbench/internal/eventloop"
	"forkbench/internal/rpc"
	"forkbench/internal/stats"
)

// PipelineOptions tune a Pipeliner. Zero values are usable.
type PipelineOptions struct {
	// MaxInFlight caps calls issued but not yet completed. Default 1.
	MaxInFlight int
	Policy      ErrorPolicy
	// Params builds the parameters of the next call.
	Params func() []any
	// Latency, when set, records the duration of every completed call.
	Latency *stats.LatencyHistogram
	Now     func() time.Time

	OnLap   func(Lap)
	OnError func(RequestCycle, error)
}

// Pipeliner keeps a workload flowing: it issues the next call as soon as
// the previous one was accepted by the transport, up to MaxInFlight calls
// at once, until LoopCount calls have completed. All of its state is owned
// by the loop goroutine; RPC callbacks only post back onto the loop.
type Pipeliner struct {
	loop   *eventloop.Loop
	caller rpc.Caller
	spec   WorkloadSpec
	opts   PipelineOptions

	issued      uint64
	submitted   uint64
	remaining   uint64
	outstanding uint64
	completed   uint64
	successes   uint64
	errors      uint64

	parked   bool
	aborted  bool
	firstErr error
	done     bool
	onDone   func(PipelineResult)

	started  time.Time
	lapStart time.Time
}

func NewPipeliner(loop *eventloop.Loop, caller rpc.Caller, spec WorkloadSpec, opts PipelineOptions) *Pipeliner {
	if opts.MaxInFlight < 1 {
		opts.MaxInFlight = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Params == nil {
		opts.Params = func() []any { return nil }
	}
	return &Pipeliner{
		loop:      loop,
		caller:    caller,
		spec:      spec,
		opts:      opts,
		remaining: spec.LoopCount,
	}
}

// Start posts the first dispatch. onDone runs on the loop exactly once.
func (p *Pipeliner) Start(onDone func(PipelineResult)) {
	p.onDone = onDone
	p.loop.Post(func() {
		p.started = p.opts.Now()
		p.lapStart = p.started
		if p.remaining == 0 {
			p.finish()
			return
		}
		p.dispatch()
	})
}

func (p *Pipeliner) dispatch() {
	if p.done || p.aborted || p.issued >= p.spec.LoopCount {
		return
	}
	if p.outstanding >= uint64(p.opts.MaxInFlight) {
		p.parked = true
		return
	}

	cycle := RequestCycle{
		Seq:       p.issued,
		Kind:      p.spec.Kind,
		Procedure: p.spec.Kind.Procedure(),
		Params:    p.opts.Params(),
	}
	p.issued++
	p.outstanding++
	sent := p.opts.Now()

	var accepted, completed sync.Once
	p.caller.Call(cycle.Procedure, cycle.Params,
		func(_ rpc.Result, err error) {
			completed.Do(func() {
				p.loop.Post(func() { p.complete(cycle, sent, err) })
			})
		},
		func() {
			accepted.Do(func() {
				p.loop.Post(p.accept)
			})
		},
	)
}

func (p *Pipeliner) accept() {
	p.submitted++
	if p.submitted < p.spec.LoopCount {
		p.loop.Post(p.dispatch)
	}
}

func (p *Pipeliner) complete(cycle RequestCycle, sent time.Time, err error) {
	if p.done {
		return
	}
	now := p.opts.Now()
	p.outstanding--
	p.remaining--
	p.completed++
	if p.opts.Latency != nil {
		p.opts.Latency.Record(now.Sub(sent))
	}

	if err != nil {
		p.errors++
		if p.opts.OnError != nil {
			p.opts.OnError(cycle, err)
		}
		if p.opts.Policy == FailFast && !p.aborted {
			p.aborted = true
			p.firstErr = err
		}
	} else {
		p.successes++
	}

	if n := p.spec.LogEveryN; n > 0 && p.completed%n == 0 && p.opts.OnLap != nil {
		p.opts.OnLap(Lap{
			Kind:       p.spec.Kind,
			Completed:  p.completed,
			Count:      n,
			DurationMs: uint64(now.Sub(p.lapStart).Milliseconds()),
		})
		p.lapStart = now
	}

	if p.remaining == 0 || (p.aborted && p.outstanding == 0) {
		p.finish()
		return
	}
	if p.parked && !p.aborted {
		p.parked = false
		p.loop.Post(p.dispatch)
	}
}

func (p *Pipeliner) finish() {
	if p.done {
		return
	}
	p.done = true
	elapsed := p.opts.Now().Sub(p.started)
	ms := elapsed.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	res := PipelineResult{
		Kind:      p.spec.Kind,
		Issued:    p.issued,
		Completed: p.completed,
		Successes: p.successes,
		Errors:    p.errors,
		Elapsed:   elapsed,
		Err:       p.firstErr,
	}
	if p.completed > 0 {
		res.Throughput = float64(p.completed) * 1000 / float64(ms)
	}
	if p.onDone != nil {
		p.onDone(res)
	}
}

// Outstanding reports calls issued but not yet completed. Loop goroutine only.
func (p *Pipeliner) Outstanding() uint64 { return p.outstanding }
