package scale

import (
	"sort"
	"time"
)

const (
	// DefaultWindowCapacity holds roughly five seconds of history at the
	// scale's 10 Hz notification cadence.
	DefaultWindowCapacity = 50
	// DefaultFilterWindow is the median window used when no filter is
	// configured. Seven rates (~0.7 s) rejects load-cell spikes while
	// staying responsive enough for shot profiling.
	DefaultFilterWindow = 7
)

// WeightSample is one decoded weight reading. Immutable once created.
type WeightSample struct {
	Grams float64
	At    time.Time
}

// FilterFunc smooths a sequence of instantaneous rates into one value.
// Implementations must tolerate an empty slice.
type FilterFunc func(rates []float64) float64

// MedianFilter returns a filter taking the median of the rates in a window
// centered on the most recent rate, clamped at the edges of the sequence.
func MedianFilter(window int) FilterFunc {
	return func(rates []float64) float64 {
		w := centerWindow(rates, window)
		if len(w) == 0 {
			return 0
		}
		sorted := make([]float64, len(w))
		copy(sorted, w)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	}
}

// MeanFilter returns a moving-average filter over the same centered window.
// Cheaper than the median but lets spikes through.
func MeanFilter(window int) FilterFunc {
	return func(rates []float64) float64 {
		w := centerWindow(rates, window)
		if len(w) == 0 {
			return 0
		}
		var sum float64
		for _, r := range w {
			sum += r
		}
		return sum / float64(len(w))
	}
}

// centerWindow slices rates to a window of size n centered on the last
// element, clamped to the sequence bounds.
func centerWindow(rates []float64, n int) []float64 {
	if len(rates) == 0 || n <= 0 {
		return nil
	}
	last := len(rates) - 1
	start := last - n/2
	if start < 0 {
		start = 0
	}
	end := last + n/2 + 1
	if end > len(rates) {
		end = len(rates)
	}
	return rates[start:end]
}

// FlowEstimator turns a noisy sequence of weight samples into a smoothed
// rate in grams per second. It keeps a bounded FIFO window of samples and
// recomputes on every append, so reads are just a field load. Not safe for
// concurrent use; the Scale facade guards it with its mutex.
type FlowEstimator struct {
	capacity int
	filter   FilterFunc

	samples []WeightSample
	rate    float64
}

// NewFlowEstimator creates an estimator holding up to capacity samples,
// smoothing with filter. Non-positive capacity and nil filter fall back to
// the defaults (50 samples, median over 7).
func NewFlowEstimator(capacity int, filter FilterFunc) *FlowEstimator {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	if filter == nil {
		filter = MedianFilter(DefaultFilterWindow)
	}
	return &FlowEstimator{
		capacity: capacity,
		filter:   filter,
		samples:  make([]WeightSample, 0, capacity),
	}
}

// Add appends a sample, evicting the oldest when the window is full, and
// recomputes the smoothed rate.
func (e *FlowEstimator) Add(s WeightSample) {
	if len(e.samples) == e.capacity {
		copy(e.samples, e.samples[1:])
		e.samples = e.samples[:len(e.samples)-1]
	}
	e.samples = append(e.samples, s)
	e.rate = e.recompute()
}

// Rate returns the smoothed flow rate in g/s. With fewer than two samples
// there is no rate to estimate and it returns 0.
func (e *FlowEstimator) Rate() float64 {
	return e.rate
}

// Len returns the number of samples currently held.
func (e *FlowEstimator) Len() int {
	return len(e.samples)
}

// Reset drops the sample history and zeroes the rate.
func (e *FlowEstimator) Reset() {
	e.samples = e.samples[:0]
	e.rate = 0
}

func (e *FlowEstimator) recompute() float64 {
	if len(e.samples) < 2 {
		return 0
	}
	rates := make([]float64, 0, len(e.samples)-1)
	for i := 1; i < len(e.samples); i++ {
		a, b := e.samples[i-1], e.samples[i]
		dt := b.At.Sub(a.At).Seconds()
		if dt <= 0 {
			rates = append(rates, 0)
			continue
		}
		rates = append(rates, (b.Grams-a.Grams)/dt)
	}
	return e.filter(rates)
}
