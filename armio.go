package jogarm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"golang.org/x/time/rate"
)

// Per-call bound on arm reads and writes.
const armCallTimeout = 100 * time.Millisecond

// ArmBridge connects an arm to the bus: it publishes the arm's joint
// positions as feedback and forwards output trajectories to the arm.
type ArmBridge struct {
	arm    arm.Arm
	names  []string
	pub    Publisher
	topic  string
	period time.Duration
	logger logging.Logger

	warn rate.Sometimes
}

// NewArmBridge bridges a. names are the arm's joints in input order.
func NewArmBridge(a arm.Arm, names []string, cfg *Config, pub Publisher, logger logging.Logger) *ArmBridge {
	return &ArmBridge{
		arm:    a,
		names:  cloneStrings(names),
		pub:    pub,
		topic:  cfg.JointTopic,
		period: cfg.feedbackPeriod(),
		logger: logger,
		warn:   rate.Sometimes{Interval: warnInterval},
	}
}

// ReadFeedback reads the arm's joint positions as a JointState.
func (b *ArmBridge) ReadFeedback(ctx context.Context) (JointState, error) {
	ctx, cancel := context.WithTimeout(ctx, armCallTimeout)
	defer cancel()

	inputs, err := b.arm.JointPositions(ctx, nil)
	if err != nil {
		return JointState{}, errors.Wrap(err, "failed to read joint positions")
	}
	if len(inputs) != len(b.names) {
		return JointState{}, errors.Errorf("expected %d joint positions, got %d", len(b.names), len(inputs))
	}
	js := NewJointState(b.names)
	js.Stamp = time.Now()
	copy(js.Position, referenceframe.InputsToFloats(inputs))
	return js, nil
}

// Apply sends the first point of traj to the arm, matching joints by name.
func (b *ArmBridge) Apply(ctx context.Context, traj JointTrajectory) error {
	if len(traj.Points) == 0 {
		return nil
	}
	point := traj.Points[0]
	if len(point.Positions) != len(traj.JointNames) {
		return errors.Errorf("trajectory has %d names but %d positions", len(traj.JointNames), len(point.Positions))
	}
	byName := JointState{Names: traj.JointNames, Position: point.Positions}
	target := NewJointState(b.names)
	if err := target.MergePositions(byName); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, armCallTimeout)
	defer cancel()
	return b.arm.MoveToJointPositions(ctx, referenceframe.FloatsToInputs(target.Position), nil)
}

// PollFeedback publishes feedback at the configured rate until ctx is done.
func (b *ArmBridge) PollFeedback(ctx context.Context) {
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()
	for {
		js, err := b.ReadFeedback(ctx)
		if err != nil {
			if ctx.Err() == nil {
				b.warn.Do(func() { b.logger.Warnf("arm feedback: %v", err) })
			}
		} else {
			b.pub.Publish(b.topic, js)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Follow applies every trajectory received on trajectories until ctx is done
// or the channel closes.
func (b *ArmBridge) Follow(ctx context.Context, trajectories <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-trajectories:
			if !ok {
				return
			}
			traj, isTraj := msg.(JointTrajectory)
			if !isTraj {
				continue
			}
			if err := b.Apply(ctx, traj); err != nil && ctx.Err() == nil {
				b.warn.Do(func() { b.logger.Warnf("failed to move arm: %v", err) })
			}
		}
	}
}
