package jogarm

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

//go:embed jog_arm_6dof.json
var defaultModelJSON []byte

// DefaultModelName is the name of the embedded 6-DOF arm model.
const DefaultModelName = "jog_arm_6dof"

// Finite difference step for the numeric Jacobian, in radians.
const jacobianStep = 1e-5

// Kinematics provides the manipulator Jacobian for the working joint group.
// Rows are vx, vy, vz (m/s) and wx, wy, wz (rad/s) in the planning frame.
type Kinematics interface {
	JointNames() []string
	Jacobian(positions []float64) (*mat.Dense, error)
}

// ModelKinematics computes kinematics from an rdk kinematic model.
type ModelKinematics struct {
	model referenceframe.Model
	names []string
}

// NewModelKinematics wraps model. names are the joint names in input order.
func NewModelKinematics(model referenceframe.Model, names []string) (*ModelKinematics, error) {
	if model == nil {
		return nil, errors.New("kinematic model is required")
	}
	if dof := len(model.DoF()); dof != len(names) {
		return nil, errors.Errorf("model %q has %d joints but %d joint names were given", model.Name(), dof, len(names))
	}
	return &ModelKinematics{model: model, names: append([]string(nil), names...)}, nil
}

// NewDefaultKinematics loads the embedded model.
func NewDefaultKinematics() (*ModelKinematics, error) {
	model, err := referenceframe.UnmarshalModelJSON(defaultModelJSON, DefaultModelName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load embedded kinematic model")
	}
	names, err := jointNamesFromModelJSON(defaultModelJSON)
	if err != nil {
		return nil, err
	}
	return NewModelKinematics(model, names)
}

func jointNamesFromModelJSON(data []byte) ([]string, error) {
	var cfg referenceframe.ModelConfigJSON
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal json file")
	}
	names := make([]string, 0, len(cfg.Joints))
	for _, j := range cfg.Joints {
		names = append(names, j.ID)
	}
	return names, nil
}

// DefaultJointNames returns generic names for an n-joint model.
func DefaultJointNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("joint_%d", i+1)
	}
	return names
}

func (k *ModelKinematics) JointNames() []string {
	return append([]string(nil), k.names...)
}

// Model returns the wrapped kinematic model.
func (k *ModelKinematics) Model() referenceframe.Model {
	return k.model
}

// Limits returns the joint limits in radians.
func (k *ModelKinematics) Limits() []referenceframe.Limit {
	return k.model.DoF()
}

// Pose returns the end effector pose. Out of range inputs are still evaluated.
func (k *ModelKinematics) Pose(positions []float64) (spatialmath.Pose, error) {
	if len(positions) != len(k.names) {
		return nil, errors.Wrapf(ErrLengthMismatch, "got %d positions for %d joints", len(positions), len(k.names))
	}
	return referenceframe.ComputeOOBPosition(k.model, referenceframe.FloatsToInputs(positions))
}

// Geometries returns the link geometries in the planning frame.
func (k *ModelKinematics) Geometries(positions []float64) ([]spatialmath.Geometry, error) {
	if len(positions) != len(k.names) {
		return nil, errors.Wrapf(ErrLengthMismatch, "got %d positions for %d joints", len(positions), len(k.names))
	}
	gif, err := k.model.Geometries(referenceframe.FloatsToInputs(positions))
	if err != nil {
		return nil, errors.Wrap(err, "computing link geometries")
	}
	return gif.Geometries(), nil
}

// Jacobian returns the 6xN Jacobian at positions by central differences of
// the forward kinematics.
func (k *ModelKinematics) Jacobian(positions []float64) (*mat.Dense, error) {
	n := len(k.names)
	if len(positions) != n {
		return nil, errors.Wrapf(ErrLengthMismatch, "got %d positions for %d joints", len(positions), n)
	}
	jac := mat.NewDense(6, n, nil)
	probe := append([]float64(nil), positions...)
	for i := 0; i < n; i++ {
		probe[i] = positions[i] + jacobianStep
		plus, err := k.Pose(probe)
		if err != nil {
			return nil, err
		}
		probe[i] = positions[i] - jacobianStep
		minus, err := k.Pose(probe)
		if err != nil {
			return nil, err
		}
		probe[i] = positions[i]

		// Model translations are in mm.
		lin := plus.Point().Sub(minus.Point()).Mul(1 / (2 * jacobianStep * 1000))
		dq := quat.Mul(plus.Orientation().Quaternion(), quat.Conj(minus.Orientation().Quaternion()))
		ang := rotationVector(dq).Mul(1 / (2 * jacobianStep))

		jac.SetCol(i, []float64{lin.X, lin.Y, lin.Z, ang.X, ang.Y, ang.Z})
	}
	return jac, nil
}

// rotationVector converts a unit quaternion into axis*angle.
func rotationVector(q quat.Number) r3.Vector {
	norm := quat.Abs(q)
	if norm == 0 {
		return r3.Vector{}
	}
	q = quat.Scale(1/norm, q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	v := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	s := v.Norm()
	if s < 1e-12 {
		return v.Mul(2)
	}
	angle := 2 * math.Atan2(s, q.Real)
	return v.Mul(angle / s)
}
