package jogarm

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"
)

const moverPeriod = 10 * time.Millisecond

// PoseSource reports the current end effector pose in the planning frame.
type PoseSource interface {
	EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error)
}

// CommandSink accepts twist commands.
type CommandSink interface {
	SubmitCommand(cmd TwistCommand)
}

// CartesianMover drives the end effector in a straight line toward a target
// by streaming twist commands.
type CartesianMover struct {
	poses         PoseSource
	sink          CommandSink
	frames        FrameTransformer
	planningFrame string
	commandFrame  string
}

// NewCartesianMover reads poses in planningFrame and sends commands expressed
// in commandFrame.
func NewCartesianMover(poses PoseSource, sink CommandSink, frames FrameTransformer, planningFrame, commandFrame string) *CartesianMover {
	return &CartesianMover{
		poses:         poses,
		sink:          sink,
		frames:        frames,
		planningFrame: planningFrame,
		commandFrame:  commandFrame,
	}
}

// MoveTo streams a linear twist of magnitude velScale toward target (mm) until
// the end effector is within tolerance (mm). The arm is always sent a stop
// command before returning.
func (m *CartesianMover) MoveTo(ctx context.Context, target r3.Vector, velScale, tolerance float64) error {
	if velScale < 0 || velScale > 1 {
		return errors.Errorf("velocity scale must be in [0,1], got %v", velScale)
	}
	if tolerance <= 0 {
		return errors.Errorf("tolerance must be positive, got %v", tolerance)
	}
	defer m.stop()

	for {
		pose, err := m.poses.EndPosition(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "reading end effector pose")
		}
		offset := target.Sub(pose.Point())
		if offset.Norm() <= tolerance {
			return nil
		}
		linear, err := m.frames.TransformVector(ctx, m.planningFrame, m.commandFrame, offset.Normalize().Mul(velScale))
		if err != nil {
			return err
		}
		m.sink.SubmitCommand(TwistCommand{
			Stamp:   time.Now(),
			FrameID: m.commandFrame,
			Linear:  linear,
		})
		if !goutils.SelectContextOrWait(ctx, moverPeriod) {
			return ctx.Err()
		}
	}
}

func (m *CartesianMover) stop() {
	m.sink.SubmitCommand(TwistCommand{Stamp: time.Now(), FrameID: m.commandFrame})
}
