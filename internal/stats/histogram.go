package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Snapshot is the portable form of a LatencyHistogram, sent from workers to
// the coordinator inside the final report.
type Snapshot = hdrhistogram.Snapshot

// LatencyHistogram is a thread-safe wrapper around hdrhistogram recording
// call latencies in microseconds.
type LatencyHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewLatencyHistogram() *LatencyHistogram {
	// 1us to 10min, 3 significant figures
	h := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
	return &LatencyHistogram{hist: h}
}

// Record records d, clamped into the trackable range.
func (h *LatencyHistogram) Record(d time.Duration) {
	us := d.Microseconds()
	if us < 1 {
		us = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.hist.RecordValue(us); err != nil {
		_ = h.hist.RecordValue(h.hist.HighestTrackableValue())
	}
}

// Export returns a snapshot suitable for serialization.
func (h *LatencyHistogram) Export() *Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Export()
}

// Merge folds a snapshot from another process into h and returns the number
// of values that fell outside h's range.
func (h *LatencyHistogram) Merge(s *Snapshot) int64 {
	if s == nil {
		return 0
	}
	other := hdrhistogram.Import(s)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Merge(other)
}

// Quantile returns the latency at q (0-100).
func (h *LatencyHistogram) Quantile(q float64) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Duration(h.hist.ValueAtQuantile(q)) * time.Microsecond
}

func (h *LatencyHistogram) Mean() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Duration(h.hist.Mean() * float64(time.Microsecond))
}

func (h *LatencyHistogram) Max() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Duration(h.hist.Max()) * time.Microsecond
}

func (h *LatencyHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}
