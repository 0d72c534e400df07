package jogarm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randomJacobian(rng *rand.Rand, rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.Float64()*2 - 1
	}
	j := mat.NewDense(rows, cols, data)
	// Diagonal dominance keeps the draws well conditioned.
	for i := 0; i < rows && i < cols; i++ {
		j.Set(i, i, j.At(i, i)+4)
	}
	return j
}

func TestPseudoInverseRecoversDelta(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, cols := range []int{6, 7} {
		j := randomJacobian(rng, 6, cols)
		pinv, err := PseudoInverse(j)
		require.NoError(t, err)

		r, c := pinv.Dims()
		assert.Equal(t, cols, r)
		assert.Equal(t, 6, c)

		delta := mat.NewVecDense(6, []float64{0.01, -0.02, 0.005, 0.1, 0, -0.05})
		var step, back mat.VecDense
		step.MulVec(pinv, delta)
		back.MulVec(j, &step)
		for i := 0; i < 6; i++ {
			assert.InDelta(t, delta.AtVec(i), back.AtVec(i), 1e-9)
		}
	}
}

func TestPseudoInverseRankDeficient(t *testing.T) {
	j := mat.NewDense(2, 3, []float64{
		1, 0, 0,
		0, 0, 0,
	})
	_, err := PseudoInverse(j)
	assert.Error(t, err)
}

func TestConditionNumber(t *testing.T) {
	t.Run("diagonal", func(t *testing.T) {
		j := mat.NewDiagDense(3, []float64{1, -2, 4})
		assert.InDelta(t, 4.0, ConditionNumber(j), 1e-9)
	})

	t.Run("identity", func(t *testing.T) {
		j := mat.NewDiagDense(6, []float64{1, 1, 1, 1, 1, 1})
		assert.InDelta(t, 1.0, ConditionNumber(j), 1e-12)
	})

	t.Run("complex eigenvalues use magnitude", func(t *testing.T) {
		// Rotation by 90 degrees scaled by 2 has eigenvalues ±2i.
		j := mat.NewDense(2, 2, []float64{0, -2, 2, 0})
		assert.InDelta(t, 1.0, ConditionNumber(j), 1e-9)
	})

	t.Run("singular is infinite", func(t *testing.T) {
		j := mat.NewDiagDense(3, []float64{1, 0, 2})
		assert.True(t, math.IsInf(ConditionNumber(j), 1))
	})

	t.Run("non-square uses singular values", func(t *testing.T) {
		j := mat.NewDense(2, 3, []float64{
			3, 0, 0,
			0, 1, 0,
		})
		assert.InDelta(t, 3.0, ConditionNumber(j), 1e-9)
	})
}

func TestClassifySingularity(t *testing.T) {
	tests := []struct {
		cond float64
		want SafetyState
	}{
		{1, SafetyOK},
		{9.999, SafetyOK},
		{10, SafetyDecelerate},
		{99.9, SafetyDecelerate},
		{100, SafetyHaltSingularity},
		{math.Inf(1), SafetyHaltSingularity},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifySingularity(tt.cond, 10, 100), "cond %v", tt.cond)
	}
}

func TestSafetyStateString(t *testing.T) {
	assert.Equal(t, "ok", SafetyOK.String())
	assert.Equal(t, "decelerate", SafetyDecelerate.String())
	assert.Equal(t, "halt_singularity", SafetyHaltSingularity.String())
	assert.Equal(t, "halt_collision", SafetyHaltCollision.String())
	assert.False(t, SafetyDecelerate.Halted())
	assert.True(t, SafetyHaltCollision.Halted())
}
