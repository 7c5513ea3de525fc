package transfer

import "time"

const (
	DefaultWindowSize     = 20
	DefaultSampleInterval = 100 * time.Millisecond
)

// RateEstimator smooths bursty chunk arrival into a stable speed. It keeps the
// last DefaultWindowSize instantaneous samples in a ring and reports their mean.
type RateEstimator struct {
	interval time.Duration
	samples  [DefaultWindowSize]float64
	count    int
	next     int

	lastUpdate time.Time
	lastBytes  uint64
}

func NewRateEstimator(interval time.Duration, now time.Time) *RateEstimator {
	return &RateEstimator{interval: interval, lastUpdate: now}
}

// Reset re-anchors the estimator without dropping the window. Used when the
// byte counter moves backwards.
func (r *RateEstimator) Reset(now time.Time, downloaded uint64) {
	r.lastUpdate = now
	r.lastBytes = downloaded
}

// Observe takes a new sample if at least one interval has elapsed since the
// previous one. It returns the smoothed speed and whether a sample was taken.
func (r *RateEstimator) Observe(now time.Time, downloaded uint64) (float64, bool) {
	elapsed := now.Sub(r.lastUpdate)
	if elapsed < r.interval || elapsed <= 0 {
		return 0, false
	}
	var delta uint64
	if downloaded > r.lastBytes {
		delta = downloaded - r.lastBytes
	}
	instant := float64(delta) / elapsed.Seconds()
	r.push(instant)
	r.lastUpdate = now
	r.lastBytes = downloaded
	return r.mean(instant), true
}

// Speed is the mean of the retained samples, or 0 before the first sample.
func (r *RateEstimator) Speed() float64 {
	return r.mean(0)
}

// Len reports how many samples are currently retained.
func (r *RateEstimator) Len() int {
	return r.count
}

func (r *RateEstimator) push(sample float64) {
	r.samples[r.next] = sample
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

func (r *RateEstimator) mean(fallback float64) float64 {
	if r.count == 0 {
		return fallback
	}
	var sum float64
	for i := 0; i < r.count; i++ {
		sum += r.samples[i]
	}
	return sum / float64(r.count)
}
