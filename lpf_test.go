package jogarm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLowPassFilter(t *testing.T) {
	t.Run("coefficient one passes input through", func(t *testing.T) {
		f := NewLowPassFilter(1)
		assert.Equal(t, 3.5, f.Filter(3.5))
		assert.Equal(t, -2.0, f.Filter(-2))
	})

	t.Run("blends with previous output", func(t *testing.T) {
		f := NewLowPassFilter(0.25)
		f.Reset(4)
		// 0.25*8 + 0.75*4
		assert.InDelta(t, 5.0, f.Filter(8), 1e-12)
		assert.InDelta(t, 5.0, f.Value(), 1e-12)
	})

	t.Run("coefficient zero holds state", func(t *testing.T) {
		f := NewLowPassFilter(0)
		f.Reset(1.5)
		assert.Equal(t, 1.5, f.Filter(100))
	})

	t.Run("non-finite output clamps to zero", func(t *testing.T) {
		for _, in := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			f := NewLowPassFilter(0.5)
			f.Reset(2)
			assert.Equal(t, 0.0, f.Filter(in))
			assert.Equal(t, 0.0, f.Value())
			// The clamped value is the new state.
			assert.Equal(t, 1.0, f.Filter(2))
		}
	})
}

func TestFilterBank(t *testing.T) {
	bank := newFilterBank(3, 0.5)
	resetFilterBank(bank, []float64{1, 2, 3})
	for i, f := range bank {
		assert.Equal(t, float64(i+1), f.Value())
	}
	resetFilterBank(bank, nil)
	for _, f := range bank {
		assert.Equal(t, 0.0, f.Value())
	}
}
