package stats

// Sample is one lap measurement: Count transactions completed in DurationMs.
type Sample struct {
	DurationMs uint64
	Count      uint64
}

// RollingWindow keeps the most recent samples up to a fixed capacity.
// Once full, each new sample evicts the oldest one.
//
// It is not safe for concurrent use; it is owned by a single event loop.
type RollingWindow struct {
	capacity int
	samples  []Sample

	sumDuration uint64
	sumCount    uint64
}

// NewRollingWindow returns a window holding at most capacity samples.
// A capacity below 1 is raised to 1.
func NewRollingWindow(capacity int) *RollingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingWindow{
		capacity: capacity,
		samples:  make([]Sample, 0, capacity),
	}
}

// Push appends s, evicting the oldest sample if the window is full.
func (w *RollingWindow) Push(s Sample) {
	if len(w.samples) == w.capacity {
		oldest := w.samples[0]
		w.sumDuration -= oldest.DurationMs
		w.sumCount -= oldest.Count
		// shift instead of reslicing so the backing array does not grow
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:len(w.samples)-1]
	}
	w.samples = append(w.samples, s)
	w.sumDuration += s.DurationMs
	w.sumCount += s.Count
}

// Sums returns the total duration and count across the window.
func (w *RollingWindow) Sums() (durationMs, count uint64) {
	return w.sumDuration, w.sumCount
}

func (w *RollingWindow) Len() int { return len(w.samples) }

func (w *RollingWindow) Cap() int { return w.capacity }

// Samples returns a copy of the window, oldest first.
func (w *RollingWindow) Samples() []Sample {
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}
