package jogarm

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

var (
	// ErrMissingJoints is returned when a feedback message does not cover every working joint.
	ErrMissingJoints = errors.New("feedback is missing working joints")
	// ErrLengthMismatch is returned when a joint delta does not line up with the joint array.
	ErrLengthMismatch = errors.New("joint array length mismatch")
)

// TwistCommand is a Cartesian velocity command. Linear is in m/s, Angular in rad/s.
type TwistCommand struct {
	Stamp   time.Time
	FrameID string
	Linear  r3.Vector
	Angular r3.Vector
}

// IsZero reports whether all six components are exactly zero.
func (c TwistCommand) IsZero() bool {
	return c.Linear.X == 0 && c.Linear.Y == 0 && c.Linear.Z == 0 &&
		c.Angular.X == 0 && c.Angular.Y == 0 && c.Angular.Z == 0
}

// JointState holds joint names and parallel position, velocity and effort arrays.
type JointState struct {
	Stamp    time.Time
	Names    []string
	Position []float64
	Velocity []float64
	Effort   []float64
}

// NewJointState returns a zeroed state for the given joints.
func NewJointState(names []string) JointState {
	return JointState{
		Names:    append([]string(nil), names...),
		Position: make([]float64, len(names)),
		Velocity: make([]float64, len(names)),
		Effort:   make([]float64, len(names)),
	}
}

// Clone returns a deep copy.
func (js JointState) Clone() JointState {
	return JointState{
		Stamp:    js.Stamp,
		Names:    cloneStrings(js.Names),
		Position: cloneFloats(js.Position),
		Velocity: cloneFloats(js.Velocity),
		Effort:   cloneFloats(js.Effort),
	}
}

// MergePositions copies positions from raw into js by joint name. Joints in raw
// that js does not know are ignored. If any of js's joints is absent from raw,
// js is left untouched and ErrMissingJoints is returned.
func (js *JointState) MergePositions(raw JointState) error {
	if len(raw.Position) < len(raw.Names) {
		return errors.Wrapf(ErrLengthMismatch, "feedback has %d names but %d positions", len(raw.Names), len(raw.Position))
	}
	index := make(map[string]int, len(raw.Names))
	for i, name := range raw.Names {
		index[name] = i
	}

	merged := make([]float64, len(js.Names))
	var missing []string
	for i, name := range js.Names {
		j, ok := index[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		merged[i] = raw.Position[j]
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrMissingJoints, "%v", missing)
	}
	copy(js.Position, merged)
	return nil
}

// Vector6 is a Cartesian delta, linear components first.
type Vector6 [6]float64

// NewVector6 packs a linear and an angular vector.
func NewVector6(linear, angular r3.Vector) Vector6 {
	return Vector6{linear.X, linear.Y, linear.Z, angular.X, angular.Y, angular.Z}
}

// TrajectoryPoint is one sample of a joint trajectory.
type TrajectoryPoint struct {
	Positions     []float64
	Velocities    []float64
	TimeFromStart time.Duration
}

// JointTrajectory is the message sent to the arm.
type JointTrajectory struct {
	FrameID    string
	Stamp      time.Time
	JointNames []string
	Points     []TrajectoryPoint
}

// Clone returns a deep copy.
func (t JointTrajectory) Clone() JointTrajectory {
	out := JointTrajectory{
		FrameID:    t.FrameID,
		Stamp:      t.Stamp,
		JointNames: cloneStrings(t.JointNames),
	}
	if t.Points != nil {
		out.Points = make([]TrajectoryPoint, len(t.Points))
		for i, p := range t.Points {
			out.Points[i] = TrajectoryPoint{
				Positions:     cloneFloats(p.Positions),
				Velocities:    cloneFloats(p.Velocities),
				TimeFromStart: p.TimeFromStart,
			}
		}
	}
	return out
}

func cloneFloats(in []float64) []float64 {
	if in == nil {
		return nil
	}
	return append([]float64(nil), in...)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
