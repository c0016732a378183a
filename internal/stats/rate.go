package stats

import (
	"math"
	"strings"
)

// DeltaWidth is the fixed width of a rendered delta indicator.
const DeltaWidth = 8

// Rates is the result of recording one sample.
type Rates struct {
	Instant    int64  // TPS of the latest sample
	Windowed   int64  // TPS across the whole window
	WindowMs   uint64 // summed duration of the window
	WindowActs uint64 // summed count of the window
}

// RateTracker derives instantaneous and windowed throughput from lap samples.
type RateTracker struct {
	window *RollingWindow

	last Rates
}

// WindowCapacity converts a smoothing span and a sample interval (both in the
// same unit) into a window capacity of at least 1.
func WindowCapacity(span, interval int) int {
	if interval <= 0 {
		return 1
	}
	c := span / interval
	if c < 1 {
		c = 1
	}
	return c
}

func NewRateTracker(capacity int) *RateTracker {
	return &RateTracker{window: NewRollingWindow(capacity)}
}

// Record pushes a sample and returns the new rates.
func (t *RateTracker) Record(durationMs, count uint64) Rates {
	t.window.Push(Sample{DurationMs: durationMs, Count: count})
	sumMs, sumCount := t.window.Sums()
	r := Rates{
		Instant:    Rate(count, durationMs),
		Windowed:   Rate(sumCount, sumMs),
		WindowMs:   sumMs,
		WindowActs: sumCount,
	}
	t.last = r
	return r
}

// Last returns the rates from the most recent Record call.
func (t *RateTracker) Last() Rates { return t.last }

func (t *RateTracker) Window() *RollingWindow { return t.window }

// Rate is round(count*1000 / max(1, durationMs)).
func Rate(count, durationMs uint64) int64 {
	if durationMs < 1 {
		durationMs = 1
	}
	return int64(math.Round(float64(count) * 1000 / float64(durationMs)))
}

// Delta renders the change from prev to cur as a run of sign characters whose
// length is round(log10(|cur-prev|)), at least one and at most DeltaWidth,
// right-padded with spaces to DeltaWidth. The sign is '+' when cur >= prev.
func Delta(prev, cur int64) string {
	sign := "+"
	if cur < prev {
		sign = "-"
	}
	n := 1
	if diff := math.Abs(float64(cur - prev)); diff > 0 {
		n = int(math.Round(math.Log10(diff)))
	}
	n = min(max(n, 1), DeltaWidth)
	return strings.Repeat(sign, n) + strings.Repeat(" ", DeltaWidth-n)
}
