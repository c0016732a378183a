package rpc

import (
	"fmt"
	"strings"
)

// ConnectionError means no endpoint could be reached. It is fatal at startup.
type ConnectionError struct {
	Endpoints []string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", strings.Join(e.Endpoints, ","), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CallError is a failure of a single call, either reported by the service or
// raised by the transport.
type CallError struct {
	Procedure string
	CallID    string
	Status    string
	Message   string
	Err       error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("call %s (%s): %v", e.Procedure, e.CallID, e.Err)
	}
	return fmt.Sprintf("call %s (%s): %s: %s", e.Procedure, e.CallID, e.Status, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }
