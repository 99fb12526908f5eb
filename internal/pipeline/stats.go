package pipeline

import "sort"

// sampleRing is a fixed-capacity ring of float64 samples. Oldest samples are
// overwritten once the ring is full. Not safe for concurrent use; callers
// hold the owning session's lock.
type sampleRing struct {
	data []float64
	pos  int
	full bool
}

func newSampleRing(capacity int) *sampleRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &sampleRing{data: make([]float64, capacity)}
}

func (r *sampleRing) add(v float64) {
	r.data[r.pos] = v
	r.pos++
	if r.pos == len(r.data) {
		r.pos = 0
		r.full = true
	}
}

func (r *sampleRing) count() int {
	if r.full {
		return len(r.data)
	}
	return r.pos
}

// values returns the live samples in unspecified order.
func (r *sampleRing) values() []float64 {
	n := r.count()
	out := make([]float64, n)
	copy(out, r.data[:n])
	return out
}

func (r *sampleRing) mean() float64 {
	n := r.count()
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.data[:n] {
		sum += v
	}
	return sum / float64(n)
}

// percentile computes the nearest-rank percentile (0–100) of the live
// samples. Returns 0 when the ring is empty.
func (r *sampleRing) percentile(p float64) float64 {
	vals := r.values()
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)

	rank := int(p / 100 * float64(len(vals)))
	if rank >= len(vals) {
		rank = len(vals) - 1
	}
	return vals[rank]
}

// sessionMetrics tracks per-session rolling telemetry: a latency window, a
// throughput window, and monotonically increasing counters. Derived
// statistics are computed on demand, never stored.
type sessionMetrics struct {
	latency    *sampleRing // milliseconds
	throughput *sampleRing // bytes per second

	processed int64
	errors    int64
}

func newSessionMetrics(latencyWindow, throughputWindow int) *sessionMetrics {
	return &sessionMetrics{
		latency:    newSampleRing(latencyWindow),
		throughput: newSampleRing(throughputWindow),
	}
}
