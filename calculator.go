package jogarm

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/mat"
)

const (
	calcIdle     = time.Millisecond
	startupPoll  = 10 * time.Millisecond
	warnInterval = 2 * time.Second
)

// Smoothing points are appended at 2..simulationHorizon-1 publication periods.
const simulationHorizon = 30

// ErrNotStarted is returned by Step before the startup barrier has passed.
var ErrNotStarted = errors.New("calculator has not started")

// CalculatorStatus summarizes the last cycle.
type CalculatorStatus struct {
	State     SafetyState
	Condition float64
	Cycles    uint64
	Aborted   uint64
	LastError string
}

// Calculator resolves Cartesian twists into joint trajectories.
type Calculator struct {
	cfg    *Config
	hub    *Hub
	kin    Kinematics
	frames FrameTransformer
	pub    Publisher
	logger logging.Logger
	now    func() time.Time

	// Owned by the calculator goroutine.
	joints      JointState
	posFilters  []*LowPassFilter
	velFilters  []*LowPassFilter
	prevTime    time.Time
	started     bool
	inSingular  bool
	abortWarn   rate.Sometimes
	haltWarn    rate.Sometimes
	decelerWarn rate.Sometimes

	statusMu sync.Mutex
	status   CalculatorStatus
}

// NewCalculator builds a calculator for the joints reported by kin.
func NewCalculator(cfg *Config, hub *Hub, kin Kinematics, frames FrameTransformer, pub Publisher, logger logging.Logger) *Calculator {
	names := kin.JointNames()
	return &Calculator{
		cfg:         cfg,
		hub:         hub,
		kin:         kin,
		frames:      frames,
		pub:         pub,
		logger:      logger,
		now:         time.Now,
		joints:      NewJointState(names),
		posFilters:  newFilterBank(len(names), cfg.filterCoeff()),
		velFilters:  newFilterBank(len(names), cfg.filterCoeff()),
		abortWarn:   rate.Sometimes{Interval: warnInterval},
		haltWarn:    rate.Sometimes{Interval: warnInterval},
		decelerWarn: rate.Sometimes{Interval: warnInterval},
	}
}

// Start blocks until a command and usable joint feedback have arrived, then
// seeds the position filters with the measured positions.
func (c *Calculator) Start(ctx context.Context) error {
	for {
		if c.hub.Ready() {
			raw, _ := c.hub.JointState()
			err := c.joints.MergePositions(raw)
			if err == nil {
				break
			}
			c.abortWarn.Do(func() { c.logger.Warnf("waiting for complete joint feedback: %v", err) })
		}
		if !goutils.SelectContextOrWait(ctx, startupPoll) {
			return ctx.Err()
		}
	}
	resetFilterBank(c.posFilters, c.joints.Position)
	c.prevTime = c.now()
	c.started = true
	c.logger.Infof("jog calculator started for joints %v", c.joints.Names)
	return nil
}

// Run executes cycles until ctx is cancelled. Cycle failures are logged and
// never end the loop.
func (c *Calculator) Run(ctx context.Context) {
	if err := c.Start(ctx); err != nil {
		return
	}
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.Step(ctx); err != nil {
			c.abortWarn.Do(func() { c.logger.Warnf("jog cycle skipped: %v", err) })
		}
		if !goutils.SelectContextOrWait(ctx, calcIdle) {
			return
		}
	}
}

// Step runs one calculation cycle and writes the resulting trajectory to the hub.
// On error nothing is written. A Jacobian that cannot be inverted halts the
// arm like any other hard stop.
func (c *Calculator) Step(ctx context.Context) (SafetyState, error) {
	if !c.started {
		return SafetyOK, ErrNotStarted
	}

	if c.hub.ZeroCommand() {
		resetFilterBank(c.velFilters, nil)
	}

	cmd, _ := c.hub.Command()
	raw, _ := c.hub.JointState()
	if err := c.joints.MergePositions(raw); err != nil {
		return c.abort(err)
	}

	linear, err := c.frames.TransformVector(ctx, cmd.FrameID, c.cfg.PlanningFrame, cmd.Linear)
	if err != nil {
		return c.abort(errors.Wrap(err, "transforming linear command"))
	}
	angular, err := c.frames.TransformVector(ctx, cmd.FrameID, c.cfg.PlanningFrame, cmd.Angular)
	if err != nil {
		return c.abort(errors.Wrap(err, "transforming angular command"))
	}
	delta := NewVector6(linear.Mul(c.cfg.linearScale()), angular.Mul(c.cfg.rotationalScale()))

	start := cloneFloats(c.joints.Position)
	jac, err := c.kin.Jacobian(start)
	if err != nil {
		return c.abort(err)
	}
	if rows, cols := jac.Dims(); rows != len(delta) || cols != len(start) {
		return c.abort(errors.Wrapf(ErrLengthMismatch, "jacobian is %dx%d for %d joints", rows, cols, len(start)))
	}
	pinv, err := PseudoInverse(jac)
	if err != nil {
		// Already at the singularity: treated as an infinite condition number.
		return c.haltAtSingularity(cmd.Stamp, start, err), nil
	}
	var step mat.VecDense
	step.MulVec(pinv, mat.NewVecDense(len(delta), delta[:]))
	jointDelta := make([]float64, len(start))
	updated := make([]float64, len(start))
	for i := range start {
		jointDelta[i] = step.AtVec(i)
		updated[i] = start[i] + jointDelta[i]
	}

	nextJac, err := c.kin.Jacobian(updated)
	if err != nil {
		return c.abort(err)
	}

	now := c.now()
	dt := now.Sub(c.prevTime).Seconds()
	c.prevTime = now

	positions := make([]float64, len(start))
	velocities := make([]float64, len(start))
	for i := range start {
		velocities[i] = finiteOrZero(c.velFilters[i].Filter(finiteOrZero(jointDelta[i] / dt)))
		positions[i] = finiteOrZero(c.posFilters[i].Filter(updated[i]))
	}
	copy(c.joints.Position, positions)
	copy(c.joints.Velocity, velocities)

	cond := ConditionNumber(nextJac)
	state := classifySingularity(cond, c.cfg.singularityThreshold(), c.cfg.hardStopThreshold())
	switch state {
	case SafetyDecelerate:
		for i := range velocities {
			velocities[i] *= singularityVelocityScale
			positions[i] -= singularityPositionPullback * jointDelta[i]
		}
		c.decelerWarn.Do(func() { c.logger.Warnf("close to a singularity (condition %.2f), decelerating", cond) })
	case SafetyHaltSingularity:
		c.halt(positions, velocities, start)
		c.haltWarn.Do(func() { c.logger.Warnf("singularity hard stop (condition %.2f), halting", cond) })
	}
	c.reportSingularity(state == SafetyHaltSingularity)

	// Evaluated last so that it overrides any singularity adjustment.
	if c.hub.ImminentCollision() {
		state = SafetyHaltCollision
		c.halt(positions, velocities, start)
		c.haltWarn.Do(func() { c.logger.Warn("imminent collision, halting") })
	}

	c.hub.SetTrajectory(c.compose(cmd.Stamp, positions, velocities))
	c.finish(state, cond)
	return state, nil
}

// haltAtSingularity completes a cycle whose starting Jacobian cannot be
// inverted by holding the start positions.
func (c *Calculator) haltAtSingularity(stamp time.Time, start []float64, cause error) SafetyState {
	c.prevTime = c.now()
	positions := make([]float64, len(start))
	velocities := make([]float64, len(start))
	c.halt(positions, velocities, start)
	copy(c.joints.Velocity, velocities)
	c.haltWarn.Do(func() { c.logger.Warnf("singularity hard stop (%v), halting", cause) })
	c.reportSingularity(true)

	state := SafetyHaltSingularity
	if c.hub.ImminentCollision() {
		state = SafetyHaltCollision
	}
	c.hub.SetTrajectory(c.compose(stamp, positions, velocities))
	c.finish(state, math.Inf(1))
	return state
}

func (c *Calculator) finish(state SafetyState, cond float64) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status.State = state
	c.status.Condition = cond
	c.status.Cycles++
	c.status.LastError = ""
}

func (c *Calculator) abort(err error) (SafetyState, error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status.Aborted++
	c.status.LastError = err.Error()
	return c.status.State, err
}

// halt holds the arm at the positions measured at the start of the cycle.
func (c *Calculator) halt(positions, velocities, start []float64) {
	copy(positions, start)
	for i := range velocities {
		velocities[i] = 0
	}
	resetFilterBank(c.velFilters, nil)
}

func (c *Calculator) reportSingularity(halted bool) {
	if halted || c.inSingular {
		c.pub.Publish(c.cfg.SingularityTopic, halted)
	}
	c.inSingular = halted
}

func (c *Calculator) compose(stamp time.Time, positions, velocities []float64) JointTrajectory {
	period := c.cfg.pubPeriod()
	point := TrajectoryPoint{Positions: positions, Velocities: velocities, TimeFromStart: period}
	traj := JointTrajectory{
		FrameID:    c.cfg.PlanningFrame,
		Stamp:      stamp,
		JointNames: cloneStrings(c.joints.Names),
		Points:     []TrajectoryPoint{point},
	}
	if c.cfg.Simulation {
		for i := 2; i < simulationHorizon; i++ {
			p := point
			p.TimeFromStart = time.Duration(i) * period
			traj.Points = append(traj.Points, p)
		}
	}
	return traj
}

// Status returns a copy of the last cycle summary.
func (c *Calculator) Status() CalculatorStatus {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}
