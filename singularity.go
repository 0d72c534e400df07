package jogarm

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// Velocity gain applied while approaching a singularity.
	singularityVelocityScale = 0.3
	// Fraction of the joint step undone while approaching a singularity.
	singularityPositionPullback = 0.7
)

// SafetyState is the outcome of the per-cycle safety policy.
type SafetyState int

const (
	SafetyOK SafetyState = iota
	SafetyDecelerate
	SafetyHaltSingularity
	SafetyHaltCollision
)

func (s SafetyState) String() string {
	switch s {
	case SafetyOK:
		return "ok"
	case SafetyDecelerate:
		return "decelerate"
	case SafetyHaltSingularity:
		return "halt_singularity"
	case SafetyHaltCollision:
		return "halt_collision"
	default:
		return "unknown"
	}
}

// Halted reports whether the state stops the arm.
func (s SafetyState) Halted() bool {
	return s == SafetyHaltSingularity || s == SafetyHaltCollision
}

// PseudoInverse returns the right pseudo-inverse Jᵀ(JJᵀ)⁻¹. It fails when J
// does not have full row rank.
func PseudoInverse(j mat.Matrix) (*mat.Dense, error) {
	r, _ := j.Dims()
	jjt := mat.NewDense(r, r, nil)
	jjt.Mul(j, j.T())

	var inv mat.Dense
	if err := inv.Inverse(jjt); err != nil {
		var condErr mat.Condition
		if !errors.As(err, &condErr) || math.IsInf(float64(condErr), 1) {
			return nil, errors.Wrap(err, "jacobian is rank deficient")
		}
		// Ill-conditioned but still invertible; the singularity policy handles it.
	}

	var pinv mat.Dense
	pinv.Mul(j.T(), &inv)
	return &pinv, nil
}

// ConditionNumber returns max|λ|/min|λ| over the eigenvalues of a square J,
// or over the singular values of a non-square J. A zero smallest magnitude
// yields +Inf.
func ConditionNumber(j mat.Matrix) float64 {
	r, c := j.Dims()
	var mags []float64
	if r == c {
		var eig mat.Eigen
		if ok := eig.Factorize(j, mat.EigenNone); !ok {
			return math.Inf(1)
		}
		for _, v := range eig.Values(nil) {
			mags = append(mags, math.Hypot(real(v), imag(v)))
		}
	} else {
		var svd mat.SVD
		if ok := svd.Factorize(j, mat.SVDNone); !ok {
			return math.Inf(1)
		}
		mags = svd.Values(nil)
	}
	if len(mags) == 0 {
		return math.Inf(1)
	}

	lo, hi := math.Inf(1), 0.0
	for _, m := range mags {
		lo = math.Min(lo, m)
		hi = math.Max(hi, m)
	}
	if lo == 0 {
		return math.Inf(1)
	}
	return hi / lo
}

// classifySingularity maps a condition number onto the slow-down and hard-stop bands.
func classifySingularity(cond, threshold, hardStop float64) SafetyState {
	switch {
	case cond >= hardStop:
		return SafetyHaltSingularity
	case cond >= threshold:
		return SafetyDecelerate
	default:
		return SafetyOK
	}
}
