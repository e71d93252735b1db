// Package fpsstats computes frame-rate and jitter statistics from frame
// arrival times.
package fpsstats

import (
	"math"
	"sync"
	"time"
)

const (
	// A stream is stable when the stddev of instantaneous FPS stays below 15%
	// of the mean FPS...
	fpsStabilityThreshold = 0.15
	// ...and the mean jitter stays below 20% of the expected interval.
	jitterStabilityThreshold = 0.20
)

// Stats summarizes frame arrivals. Jitter values are in seconds.
type Stats struct {
	Frames       int
	Duration     time.Duration
	FPSMean      float64
	FPSStdDev    float64
	FPSMin       float64
	FPSMax       float64
	JitterMean   float64
	JitterStdDev float64
	JitterMax    float64
	Stable       bool
}

// Calculate computes Stats for frames that arrived at frameTimes over total.
func Calculate(frameTimes []time.Time, total time.Duration) Stats {
	n := len(frameTimes)
	st := Stats{Frames: n, Duration: total}
	if n == 0 || total <= 0 {
		return st
	}
	st.FPSMean = float64(n) / total.Seconds()

	intervals := make([]float64, 0, n-1)
	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		d := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		intervals = append(intervals, d)
		if d > 0 {
			instantaneous = append(instantaneous, 1/d)
		}
	}
	if len(instantaneous) == 0 {
		return st
	}

	st.FPSMin, st.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		st.FPSMin = math.Min(st.FPSMin, fps)
		st.FPSMax = math.Max(st.FPSMax, fps)
		diff := fps - st.FPSMean
		sumSquares += diff * diff
	}
	st.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1 / st.FPSMean
	jitters := make([]float64, len(intervals))
	var jitterSum float64
	for i, d := range intervals {
		jitters[i] = math.Abs(d - expected)
		jitterSum += jitters[i]
		st.JitterMax = math.Max(st.JitterMax, jitters[i])
	}
	st.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - st.JitterMean
		jitterSquares += diff * diff
	}
	st.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	st.Stable = st.FPSStdDev < st.FPSMean*fpsStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}

// DefaultWindow is the number of arrivals a Window keeps by default.
const DefaultWindow = 120

// Window keeps the most recent arrival times in a ring buffer. It is safe for
// concurrent use.
type Window struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	count int
}

// NewWindow returns a window of the given capacity; size <= 0 means
// DefaultWindow.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Window{times: make([]time.Time, size)}
}

// Add records an arrival.
func (w *Window) Add(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.times[w.next] = t
	w.next = (w.next + 1) % len(w.times)
	if w.count < len(w.times) {
		w.count++
	}
}

// Reset forgets every arrival.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next, w.count = 0, 0
}

// Len returns the number of arrivals held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Stats computes statistics over the held arrivals up to now.
func (w *Window) Stats(now time.Time) Stats {
	w.mu.Lock()
	ordered := make([]time.Time, w.count)
	start := (w.next - w.count + len(w.times)) % len(w.times)
	for i := range ordered {
		ordered[i] = w.times[(start+i)%len(w.times)]
	}
	w.mu.Unlock()

	if len(ordered) == 0 {
		return Stats{}
	}
	return Calculate(ordered, now.Sub(ordered[0]))
}
