// Package rpc is the client side of the remote procedure service under load.
//
// A Caller executes a named procedure with positional parameters and reports
// back through two callbacks: onAccepted once the call has been handed to
// the transport (this is what paces a pipeline), and onComplete once a
// response or an error is available. Both fire exactly once per call, on an
// arbitrary goroutine, in either order.
package rpc

import (
	"context"
	"time"
)

// Procedure names exposed by the service.
const (
	ProcInsert     = "Insert"     // (string hello, string world, string language)
	ProcSelect     = "Select"     // (string language)
	ProcResults    = "Results"    // ()
	ProcInitialize = "Initialize" // (int candidates, string names)
	ProcVote       = "Vote"       // (long phone, int candidate, long maxVotes)
)

// Result is the decoded response of a successful call.
type Result struct {
	CallID string
	Rows   []map[string]any
}

// FirstValue returns the first column value of the first row, if any.
func (r Result) FirstValue(column string) (any, bool) {
	if len(r.Rows) == 0 {
		return nil, false
	}
	v, ok := r.Rows[0][column]
	return v, ok
}

type (
	CompleteFunc func(Result, error)
	AcceptFunc   func()
)

// Caller issues asynchronous calls.
type Caller interface {
	Call(proc string, params []any, onComplete CompleteFunc, onAccepted AcceptFunc)
}

// Client is a connected session to one or more service endpoints.
type Client interface {
	Caller
	Connect(ctx context.Context) error
	Stats() []EndpointStats
	Close() error
}

// EndpointStats are the end-of-run connection statistics for one endpoint.
type EndpointStats struct {
	Endpoint    string
	Calls       uint64
	Errors      uint64
	MeanLatency time.Duration
}

// CallSync issues a call and waits for its completion or ctx.
func CallSync(ctx context.Context, c Caller, proc string, params ...any) (Result, error) {
	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	c.Call(proc, params, func(res Result, err error) {
		ch <- outcome{res, err}
	}, func() {})

	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
