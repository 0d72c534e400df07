package jogarm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/motion"
	"go.viam.com/rdk/spatialmath"
)

// SimulatedArmModel is an in-memory arm using the embedded kinematic model,
// for exercising the jog service without hardware.
var SimulatedArmModel = resource.NewModel("viam-labs", "jog-arm", "simulated")

func init() {
	resource.RegisterComponent(arm.API, SimulatedArmModel,
		resource.Registration[arm.Arm, *SimulatedArmConfig]{
			Constructor: newSimulatedArm,
		},
	)
}

// SimulatedArmConfig configures the simulated arm.
type SimulatedArmConfig struct {
	// Initial joint positions in degrees; defaults to all zeros.
	StartDegs []float64 `json:"start_degs,omitempty"`
}

func (cfg *SimulatedArmConfig) Validate(path string) ([]string, []string, error) {
	kin, err := NewDefaultKinematics()
	if err != nil {
		return nil, nil, err
	}
	if n := len(kin.JointNames()); len(cfg.StartDegs) != 0 && len(cfg.StartDegs) != n {
		return nil, nil, errors.Errorf("start_degs needs %d values, got %d", n, len(cfg.StartDegs))
	}
	return nil, nil, nil
}

// SimulatedArm tracks commanded joint positions in memory, clamped to the
// model's joint limits.
type SimulatedArm struct {
	resource.Named
	resource.AlwaysRebuild

	logger logging.Logger
	kin    *ModelKinematics

	mu        sync.RWMutex
	positions []float64
	moveLock  sync.Mutex
	isMoving  atomic.Bool
}

func newSimulatedArm(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (arm.Arm, error) {
	conf, err := resource.NativeConfig[*SimulatedArmConfig](rawConf)
	if err != nil {
		return nil, err
	}
	start := make([]float64, len(conf.StartDegs))
	for i, d := range conf.StartDegs {
		start[i] = d * degToRad
	}
	return NewSimulatedArm(rawConf.ResourceName(), start, logger)
}

// NewSimulatedArm returns an arm at start (radians), or at zero when start is empty.
func NewSimulatedArm(name resource.Name, start []float64, logger logging.Logger) (*SimulatedArm, error) {
	kin, err := NewDefaultKinematics()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kinematic model")
	}
	positions := make([]float64, len(kin.JointNames()))
	if len(start) != 0 {
		if len(start) != len(positions) {
			return nil, errors.Wrapf(ErrLengthMismatch, "got %d start positions for %d joints", len(start), len(positions))
		}
		copy(positions, start)
	}
	return &SimulatedArm{
		Named:     name.AsNamed(),
		logger:    logger,
		kin:       kin,
		positions: positions,
	}, nil
}

func (s *SimulatedArm) EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error) {
	inputs, err := s.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	pose, err := referenceframe.ComputeOOBPosition(s.kin.Model(), inputs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute end position")
	}
	return pose, nil
}

func (s *SimulatedArm) MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error {
	return motion.MoveArm(ctx, s.logger, s, pose)
}

func (s *SimulatedArm) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	s.moveLock.Lock()
	defer s.moveLock.Unlock()

	limits := s.kin.Limits()
	if len(positions) != len(limits) {
		return errors.Errorf("expected %d joint positions, got %d", len(limits), len(positions))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.isMoving.Store(true)
	defer s.isMoving.Store(false)

	angles := referenceframe.InputsToFloats(positions)
	for i, angle := range angles {
		// Clamp to joint limits
		if angle < limits[i].Min {
			s.logger.Debugf("joint %d angle %.3f rad below limit %.3f rad, clamping", i+1, angle, limits[i].Min)
			angles[i] = limits[i].Min
		} else if angle > limits[i].Max {
			s.logger.Debugf("joint %d angle %.3f rad above limit %.3f rad, clamping", i+1, angle, limits[i].Max)
			angles[i] = limits[i].Max
		}
	}

	s.mu.Lock()
	copy(s.positions, angles)
	s.mu.Unlock()
	return nil
}

func (s *SimulatedArm) MoveThroughJointPositions(ctx context.Context, positions [][]referenceframe.Input, options *arm.MoveOptions, extra map[string]interface{}) error {
	for _, jointPositions := range positions {
		if err := s.MoveToJointPositions(ctx, jointPositions, extra); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimulatedArm) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return referenceframe.FloatsToInputs(cloneFloats(s.positions)), nil
}

func (s *SimulatedArm) Stop(ctx context.Context, extra map[string]interface{}) error {
	s.isMoving.Store(false)
	return nil
}

func (s *SimulatedArm) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return s.kin.Model(), nil
}

func (s *SimulatedArm) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return s.JointPositions(ctx, nil)
}

func (s *SimulatedArm) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	return s.MoveThroughJointPositions(ctx, inputSteps, nil, nil)
}

func (s *SimulatedArm) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "joint_names":
		names := s.kin.JointNames()
		out := make([]interface{}, len(names))
		for i, n := range names {
			out[i] = n
		}
		return map[string]interface{}{"joint_names": out}, nil
	default:
		return nil, errors.Errorf("unknown command: %v", cmd["command"])
	}
}

func (s *SimulatedArm) IsMoving(ctx context.Context) (bool, error) {
	return s.isMoving.Load(), nil
}

func (s *SimulatedArm) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	inputs, err := s.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	return s.kin.Geometries(referenceframe.InputsToFloats(inputs))
}

func (s *SimulatedArm) Close(context.Context) error {
	return nil
}

