package stats

import (
	"sync/atomic"
	"time"
)

// Counters holds call outcome totals. Safe for concurrent use.
type Counters struct {
	Calls   atomic.Uint64
	Success atomic.Uint64
	Fail    atomic.Uint64

	latencyUs atomic.Uint64
}

// Add records one finished call.
func (c *Counters) Add(success bool, latency time.Duration) {
	c.Calls.Add(1)
	if success {
		c.Success.Add(1)
	} else {
		c.Fail.Add(1)
	}
	c.latencyUs.Add(uint64(latency.Microseconds()))
}

// ErrorRate returns the failed share of calls in percent.
func (c *Counters) ErrorRate() float64 {
	calls := c.Calls.Load()
	if calls == 0 {
		return 0
	}
	return float64(c.Fail.Load()) / float64(calls) * 100
}

// MeanLatency returns the average latency over all recorded calls.
func (c *Counters) MeanLatency() time.Duration {
	calls := c.Calls.Load()
	if calls == 0 {
		return 0
	}
	return time.Duration(c.latencyUs.Load()/calls) * time.Microsecond
}
