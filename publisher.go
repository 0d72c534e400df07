package jogarm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.viam.com/rdk/logging"
	"golang.org/x/time/rate"
)

// warmupPeriods is how many publication periods to wait after the first
// command and feedback before emitting, giving the filters time to settle.
const warmupPeriods = 10

// PublishOutcome is what a publication tick did.
type PublishOutcome int

const (
	Published PublishOutcome = iota
	SkippedEmpty
	SkippedStale
	SkippedZero
	SkippedWarmup
)

func (o PublishOutcome) String() string {
	switch o {
	case Published:
		return "published"
	case SkippedEmpty:
		return "skipped_empty"
	case SkippedStale:
		return "skipped_stale"
	case SkippedZero:
		return "skipped_zero"
	case SkippedWarmup:
		return "skipped_warmup"
	default:
		return "unknown"
	}
}

// PublicationLoop emits the latest trajectory at a fixed period and dispatches
// incoming commands and feedback between ticks.
type PublicationLoop struct {
	hub      *Hub
	pub      Publisher
	topic    string
	period   time.Duration
	timeout  time.Duration
	commands *CommandHandler
	feedback *FeedbackHandler
	logger   logging.Logger
	now      func() time.Time

	readyAt   time.Time
	staleWarn rate.Sometimes
	published atomic.Uint64

	outMu      sync.Mutex
	lastOutput JointTrajectory
}

func NewPublicationLoop(cfg *Config, hub *Hub, pub Publisher, logger logging.Logger) *PublicationLoop {
	return &PublicationLoop{
		hub:       hub,
		pub:       pub,
		topic:     cfg.CommandOutTopic,
		period:    cfg.pubPeriod(),
		timeout:   cfg.commandTimeout(),
		commands:  NewCommandHandler(hub, cfg.CommandFrame),
		feedback:  NewFeedbackHandler(hub),
		logger:    logger,
		now:       time.Now,
		staleWarn: rate.Sometimes{Interval: warnInterval},
	}
}

// Tick runs one publication step.
func (p *PublicationLoop) Tick() PublishOutcome {
	now := p.now()
	if p.readyAt.IsZero() {
		if !p.hub.Ready() {
			return SkippedWarmup
		}
		p.readyAt = now.Add(warmupPeriods * p.period)
	}
	if now.Before(p.readyAt) {
		return SkippedWarmup
	}

	traj := p.hub.Trajectory()
	if len(traj.JointNames) == 0 {
		return SkippedEmpty
	}
	if age := now.Sub(traj.Stamp); age >= p.timeout {
		p.staleWarn.Do(func() {
			p.logger.Warnf("stale jog command (%v old, timeout %v), not publishing", age.Round(time.Millisecond), p.timeout)
		})
		return SkippedStale
	}
	if p.hub.ZeroCommand() {
		return SkippedZero
	}

	traj.Stamp = now
	p.pub.Publish(p.topic, traj)
	p.published.Add(1)
	p.outMu.Lock()
	p.lastOutput = traj
	p.outMu.Unlock()
	return Published
}

// Run ticks every period and hands messages from the subscriptions to the
// ingest handlers in between. It returns when ctx is done or a subscription closes.
func (p *PublicationLoop) Run(ctx context.Context, commands, feedback <-chan any) {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-commands:
			if !ok {
				return
			}
			if cmd, isCmd := msg.(TwistCommand); isCmd {
				p.commands.Handle(cmd)
			}
		case msg, ok := <-feedback:
			if !ok {
				return
			}
			if js, isJS := msg.(JointState); isJS {
				p.feedback.Handle(js)
			}
		case <-ticker.C:
			p.Tick()
		}
	}
}

// PublishedCount returns how many trajectories have been emitted.
func (p *PublicationLoop) PublishedCount() uint64 {
	return p.published.Load()
}

// LastOutput returns the most recently emitted trajectory.
func (p *PublicationLoop) LastOutput() (JointTrajectory, bool) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	return p.lastOutput.Clone(), len(p.lastOutput.JointNames) > 0
}
