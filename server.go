package jogarm

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// ServerDeps are the collaborators a Server runs against.
type ServerDeps struct {
	Kinematics Kinematics
	Frames     FrameTransformer
	// Scene is required when collision checking is enabled.
	Scene CollisionScene
	// Bus is created when nil.
	Bus      *Bus
	Recorder *Recorder
}

// Server runs the jog pipeline: ingest and publication, the calculator, and
// optionally the collision monitor and a session recorder.
type Server struct {
	cfg    *Config
	logger logging.Logger

	hub       *Hub
	bus       *Bus
	ownsBus   bool
	calc      *Calculator
	monitor   *CollisionMonitor
	publisher *PublicationLoop
	recorder  *Recorder

	mu      sync.Mutex
	workers *goutils.StoppableWorkers
	closed  bool
}

// NewServer wires a server. cfg must already be validated.
func NewServer(cfg *Config, deps ServerDeps, logger logging.Logger) (*Server, error) {
	if deps.Kinematics == nil {
		return nil, errors.New("kinematics are required")
	}
	if deps.Frames == nil {
		return nil, errors.New("a frame transformer is required")
	}
	if cfg.CollisionCheck && deps.Scene == nil {
		return nil, errors.New("collision checking is enabled but no collision scene was given")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		hub:      NewHub(),
		bus:      deps.Bus,
		recorder: deps.Recorder,
	}
	if s.bus == nil {
		s.bus = NewBus()
		s.ownsBus = true
	}
	s.calc = NewCalculator(cfg, s.hub, deps.Kinematics, deps.Frames, s.bus, logger.Sublogger("calc"))
	s.publisher = NewPublicationLoop(cfg, s.hub, s.bus, logger.Sublogger("publish"))
	if cfg.CollisionCheck {
		s.monitor = NewCollisionMonitor(cfg, s.hub, deps.Scene, s.bus, logger.Sublogger("collision"))
	}
	return s, nil
}

// Start launches the worker loops. Messages submitted after Start returns are
// never lost to a missing subscription.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("server is closed")
	}
	if s.workers != nil {
		return errors.New("server already started")
	}

	commands, cancelCommands := s.bus.Subscribe(s.cfg.CommandInTopic)
	feedback, cancelFeedback := s.bus.Subscribe(s.cfg.JointTopic)
	s.workers = goutils.NewBackgroundStoppableWorkers(
		func(ctx context.Context) {
			defer cancelCommands()
			defer cancelFeedback()
			s.publisher.Run(ctx, commands, feedback)
		},
		s.calc.Run,
	)
	if s.monitor != nil {
		s.workers.Add(s.monitor.Run)
	}
	if s.recorder != nil {
		trajectories, cancelTraj := s.bus.Subscribe(s.cfg.CommandOutTopic)
		collisions, cancelColl := s.bus.Subscribe(s.cfg.CollisionTopic)
		singularities, cancelSing := s.bus.Subscribe(s.cfg.SingularityTopic)
		s.workers.Add(func(ctx context.Context) {
			defer cancelTraj()
			defer cancelColl()
			defer cancelSing()
			s.recorder.Run(ctx, trajectories, collisions, singularities)
		})
	}
	s.logger.Infof("jog server started: commands on %q, feedback on %q, trajectories on %q",
		s.cfg.CommandInTopic, s.cfg.JointTopic, s.cfg.CommandOutTopic)
	return nil
}

// SubmitCommand publishes a twist on the command topic.
func (s *Server) SubmitCommand(cmd TwistCommand) {
	s.bus.Publish(s.cfg.CommandInTopic, cmd)
}

// SubmitJointState publishes joint feedback on the joint topic.
func (s *Server) SubmitJointState(js JointState) {
	s.bus.Publish(s.cfg.JointTopic, js.Clone())
}

func (s *Server) Bus() *Bus {
	return s.bus
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// LastOutput returns the last emitted trajectory.
func (s *Server) LastOutput() (JointTrajectory, bool) {
	return s.publisher.LastOutput()
}

// Status is a point-in-time view of the server.
type Status struct {
	State             SafetyState
	Condition         float64
	Cycles            uint64
	Aborted           uint64
	Published         uint64
	ZeroCommand       bool
	ImminentCollision bool
	LastError         string
}

func (s *Server) Status() Status {
	calc := s.calc.Status()
	return Status{
		State:             calc.State,
		Condition:         calc.Condition,
		Cycles:            calc.Cycles,
		Aborted:           calc.Aborted,
		Published:         s.publisher.PublishedCount(),
		ZeroCommand:       s.hub.ZeroCommand(),
		ImminentCollision: s.hub.ImminentCollision(),
		LastError:         calc.LastError,
	}
}

// Map renders the status for DoCommand replies.
func (st Status) Map() map[string]interface{} {
	cond := st.Condition
	if math.IsInf(cond, 0) || math.IsNaN(cond) {
		cond = -1
	}
	return map[string]interface{}{
		"state":              st.State.String(),
		"condition_number":   cond,
		"cycles":             st.Cycles,
		"aborted_cycles":     st.Aborted,
		"published":          st.Published,
		"zero_command":       st.ZeroCommand,
		"imminent_collision": st.ImminentCollision,
		"last_error":         st.LastError,
	}
}

// Close stops every loop and releases the bus and recorder.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.workers != nil {
		s.workers.Stop()
	}
	if s.ownsBus {
		s.bus.Close()
	}
	if s.recorder != nil {
		return s.recorder.Close()
	}
	return nil
}
