// Package ipc carries worker reports to the coordinator as newline-delimited
// JSON records over a pipe. Each record is tagged by its "cmd" field.
package ipc

import (
	"forkbench/internal/stats"
)

const (
	CmdLap    = "lap"
	CmdResult = "result"
)

// Message is the envelope written on the wire. Exactly one of the embedded
// reports is set, matching Cmd; their fields are flattened into the record.
type Message struct {
	Cmd      string `json:"cmd"`
	WorkerID int    `json:"workerId"`

	*LapReport
	*FinalReport
}

// LapReport is a periodic progress checkpoint of one workload pipeline.
type LapReport struct {
	Kind           string `json:"kind"`
	Completed      uint64 `json:"completed"`
	Rate           int64  `json:"rate"`
	WindowedRate   int64  `json:"windowedRate"`
	WindowedSpanMs uint64 `json:"windowedSpanMs"`
}

// FinalReport is sent once per worker when all of its pipelines are done.
type FinalReport struct {
	Throughput float64            `json:"throughput"`
	Successes  uint64             `json:"successes"`
	Errors     uint64             `json:"errors"`
	Breakdown  map[string]float64 `json:"breakdown,omitempty"`
	Latency    *stats.Snapshot    `json:"latency,omitempty"`
}

func NewLap(workerID int, lap LapReport) Message {
	return Message{Cmd: CmdLap, WorkerID: workerID, LapReport: &lap}
}

func NewResult(workerID int, res FinalReport) Message {
	return Message{Cmd: CmdResult, WorkerID: workerID, FinalReport: &res}
}

// Sender delivers messages to the coordinator in order.
type Sender interface {
	Send(Message) error
}
