package runner

import (
	"fmt"
	"strings"
	"time"

	"forkbench/internal/payload"
	"forkbench/internal/rpc"
)

// Kind selects the procedure a workload drives.
type Kind int

const (
	Write Kind = iota
	Read
	Vote
)

func (k Kind) String() string {
	switch k {
	case Write:
		return "writes"
	case Read:
		return "reads"
	case Vote:
		return "votes"
	default:
		return "unknown"
	}
}

// Procedure returns the remote procedure called for one cycle of k.
func (k Kind) Procedure() string {
	switch k {
	case Read:
		return rpc.ProcSelect
	case Vote:
		return rpc.ProcVote
	default:
		return rpc.ProcInsert
	}
}

// WorkloadSpec describes one pipeline. It does not change once a worker runs.
type WorkloadSpec struct {
	Kind        Kind
	LoopCount   uint64
	PayloadMode payload.Mode
	LogEveryN   uint64
}

// RequestCycle is one call about to be issued or in flight.
type RequestCycle struct {
	Seq       uint64
	Kind      Kind
	Procedure string
	Params    []any
}

// ErrorPolicy decides what a failed call does to the rest of a pipeline.
type ErrorPolicy int

const (
	// ContinueOnError counts a failed call as completed and keeps going.
	ContinueOnError ErrorPolicy = iota
	// FailFast stops issuing calls after the first failure and finishes
	// once the calls already in flight have completed.
	FailFast
)

func (p ErrorPolicy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "continue"
}

func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return ContinueOnError, nil
	case "fail-fast", "failfast":
		return FailFast, nil
	default:
		return 0, fmt.Errorf("unknown error policy %q (expected continue or fail-fast)", s)
	}
}

// Config is everything one worker process needs to run.
type Config struct {
	WorkerID  int
	Workers   int
	Workloads []WorkloadSpec

	// MaxInFlight caps unacknowledged calls per pipeline.
	MaxInFlight    int
	WindowCapacity int
	ErrorPolicy    ErrorPolicy

	// InitVote makes this worker seed the vote contest before running.
	InitVote bool
	// ConnectionStats logs per-endpoint call statistics while draining.
	ConnectionStats bool
}

// PipelineResult is what a finished pipeline hands to its owner.
type PipelineResult struct {
	Kind       Kind
	Issued     uint64
	Completed  uint64
	Successes  uint64
	Errors     uint64
	Elapsed    time.Duration
	Throughput float64
	// Err is the failure that stopped a fail-fast pipeline.
	Err error
}

// Lap is emitted every LogEveryN completions of a pipeline.
type Lap struct {
	Kind       Kind
	Completed  uint64
	Count      uint64
	DurationMs uint64
}
