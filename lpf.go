package jogarm

import "math"

// LowPassFilter is a first-order exponential smoother for one scalar signal.
type LowPassFilter struct {
	coeff float64
	prev  float64
}

// NewLowPassFilter returns a filter with the given smoothing coefficient in [0,1].
// A coefficient of 1 passes the input through unchanged.
func NewLowPassFilter(coeff float64) *LowPassFilter {
	return &LowPassFilter{coeff: coeff}
}

// Filter feeds one sample and returns the smoothed output. A non-finite
// output is clamped to zero and becomes the new filter state.
func (f *LowPassFilter) Filter(x float64) float64 {
	out := f.coeff*x + (1-f.coeff)*f.prev
	if math.IsNaN(out) || math.IsInf(out, 0) {
		out = 0
	}
	f.prev = out
	return out
}

// Reset forces the filter's previous output.
func (f *LowPassFilter) Reset(v float64) {
	f.prev = v
}

// Value returns the last output.
func (f *LowPassFilter) Value() float64 {
	return f.prev
}

func newFilterBank(n int, coeff float64) []*LowPassFilter {
	bank := make([]*LowPassFilter, n)
	for i := range bank {
		bank[i] = NewLowPassFilter(coeff)
	}
	return bank
}

func resetFilterBank(bank []*LowPassFilter, values []float64) {
	for i, f := range bank {
		if values == nil {
			f.Reset(0)
			continue
		}
		f.Reset(values[i])
	}
}
