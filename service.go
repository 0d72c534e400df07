package jogarm

import (
	"context"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	pb "go.viam.com/api/component/arm/v1"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"
)

// Model is the jog service model.
var Model = resource.NewModel("viam-labs", "jog-arm", "jog")

func init() {
	resource.RegisterService(generic.API, Model,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newJogService,
		},
	)
}

// jogSession is one running pipeline: the server, its collision scene and
// the bridge to the arm.
type jogSession struct {
	server  *Server
	kin     *ModelKinematics
	frames  *StaticFrames
	scene   *GeometryScene
	bridge  *ArmBridge
	workers *goutils.StoppableWorkers
}

func startSession(ctx context.Context, cfg *Config, a arm.Arm, logger logging.Logger) (*jogSession, error) {
	model, err := a.Kinematics(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get arm kinematics")
	}
	names := cfg.JointNames
	if len(names) == 0 {
		names = DefaultJointNames(len(model.DoF()))
	}
	kin, err := NewModelKinematics(model, names)
	if err != nil {
		return nil, err
	}
	frames, err := NewStaticFramesFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	scene := NewGeometryScene(kin, cfg.CollisionBufferMM)
	for _, o := range cfg.Obstacles {
		g, err := o.Geometry()
		if err != nil {
			return nil, err
		}
		scene.AddObstacle(g)
	}

	var recorder *Recorder
	if cfg.RecordPath != "" {
		if recorder, err = OpenRecorder(cfg.RecordPath, logger.Sublogger("recorder")); err != nil {
			return nil, err
		}
	}

	server, err := NewServer(cfg, ServerDeps{
		Kinematics: kin,
		Frames:     frames,
		Scene:      scene,
		Recorder:   recorder,
	}, logger)
	if err != nil {
		if recorder != nil {
			recorder.Close()
		}
		return nil, err
	}
	if err := server.Start(); err != nil {
		server.Close()
		return nil, err
	}

	bridge := NewArmBridge(a, names, cfg, server.Bus(), logger.Sublogger("arm"))
	trajectories, cancelTraj := server.Bus().Subscribe(cfg.CommandOutTopic)
	workers := goutils.NewBackgroundStoppableWorkers(
		bridge.PollFeedback,
		func(ctx context.Context) {
			defer cancelTraj()
			bridge.Follow(ctx, trajectories)
		},
	)
	return &jogSession{
		server:  server,
		kin:     kin,
		frames:  frames,
		scene:   scene,
		bridge:  bridge,
		workers: workers,
	}, nil
}

func (s *jogSession) Close() error {
	s.workers.Stop()
	return s.server.Close()
}

type jogService struct {
	resource.Named
	resource.AlwaysRebuild

	logger  logging.Logger
	cfg     *Config
	arm     arm.Arm
	session *jogSession
	mover   *CartesianMover

	// One jacobian_move at a time.
	moveMu sync.Mutex
}

func newJogService(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}
	if conf.Arm == "" {
		return nil, resource.NewConfigValidationFieldRequiredError(rawConf.Name, "arm")
	}
	armResource, err := deps.Lookup(resource.NewName(arm.API, conf.Arm))
	if err != nil {
		return nil, err
	}
	a, ok := armResource.(arm.Arm)
	if !ok {
		return nil, errors.Errorf("dependency %q is not an arm", conf.Arm)
	}
	return NewJogService(ctx, rawConf.ResourceName(), conf, a, logger)
}

// NewJogService starts (or joins) the jog pipeline for a.
func NewJogService(ctx context.Context, name resource.Name, conf *Config, a arm.Arm, logger logging.Logger) (resource.Resource, error) {
	s, err := sharedSessions.Acquire(conf.Arm, conf, func() (session, error) {
		return startSession(ctx, conf, a, logger)
	})
	if err != nil {
		return nil, err
	}
	js := s.(*jogSession)
	logger.Infof("jog service ready for arm %q (move group %q)", conf.Arm, conf.MoveGroupName)
	return &jogService{
		Named:   name.AsNamed(),
		logger:  logger,
		cfg:     conf,
		arm:     a,
		session: js,
		mover:   NewCartesianMover(a, js.server, js.frames, conf.PlanningFrame, conf.CommandFrame),
	}, nil
}

func (s *jogService) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	server := s.session.server
	switch cmd["command"] {
	case "jog":
		linear, err := vectorArg(cmd, "linear")
		if err != nil {
			return nil, err
		}
		angular, err := vectorArg(cmd, "angular")
		if err != nil {
			return nil, err
		}
		server.SubmitCommand(TwistCommand{Linear: linear, Angular: angular})
		return map[string]interface{}{"success": true}, nil

	case "stop":
		server.SubmitCommand(TwistCommand{})
		return map[string]interface{}{"success": true}, nil

	case "status":
		result := server.Status().Map()
		labels := s.session.scene.Obstacles()
		obstacles := make([]interface{}, len(labels))
		for i, l := range labels {
			obstacles[i] = l
		}
		result["obstacles"] = obstacles
		return result, nil

	case "last_trajectory":
		traj, ok := server.LastOutput()
		if !ok || len(traj.Points) == 0 {
			return map[string]interface{}{"published": false}, nil
		}
		return trajectoryResult(traj, referenceframe.JointPositionsFromRadians(traj.Points[0].Positions)), nil

	case "jacobian_move":
		target, err := pointArg(cmd)
		if err != nil {
			return nil, err
		}
		velScale, ok := cmd["vel_scale"].(float64)
		if !ok {
			return nil, errors.New("jacobian_move requires 'vel_scale'")
		}
		tolerance := 1.0
		if t, ok := cmd["tolerance"].(float64); ok {
			tolerance = t
		}
		s.moveMu.Lock()
		defer s.moveMu.Unlock()
		if err := s.mover.MoveTo(ctx, target, velScale, tolerance); err != nil {
			return nil, err
		}
		return map[string]interface{}{"success": true}, nil

	case "add_obstacle":
		obstacle, err := obstacleArg(cmd)
		if err != nil {
			return nil, err
		}
		g, err := obstacle.Geometry()
		if err != nil {
			return nil, err
		}
		s.session.scene.AddObstacle(g)
		return map[string]interface{}{"success": true, "obstacle": g.Label()}, nil

	case "end_position":
		pose, err := s.arm.EndPosition(ctx, nil)
		if err != nil {
			return nil, err
		}
		return poseResult(pose), nil

	default:
		return nil, errors.Errorf("unknown command: %v", cmd["command"])
	}
}

func (s *jogService) Close(ctx context.Context) error {
	s.logger.Info("Closing jog service")
	return sharedSessions.Release(s.cfg.Arm)
}

func trajectoryResult(traj JointTrajectory, jp *pb.JointPositions) map[string]interface{} {
	names := make([]interface{}, len(traj.JointNames))
	for i, n := range traj.JointNames {
		names[i] = n
	}
	degs := make([]interface{}, len(jp.Values))
	for i, v := range jp.Values {
		degs[i] = v
	}
	return map[string]interface{}{
		"published":      true,
		"frame":          traj.FrameID,
		"joint_names":    names,
		"positions_degs": degs,
		"stamp":          traj.Stamp.UnixNano(),
	}
}

func poseResult(pose spatialmath.Pose) map[string]interface{} {
	p := pose.Point()
	ov := pose.Orientation().OrientationVectorDegrees()
	return map[string]interface{}{
		"x": p.X, "y": p.Y, "z": p.Z,
		"o_x": ov.OX, "o_y": ov.OY, "o_z": ov.OZ, "theta": ov.Theta,
	}
}

func floatsArg(cmd map[string]interface{}, key string, n int) ([]float64, error) {
	raw, ok := cmd[key]
	if !ok {
		return make([]float64, n), nil
	}
	list, ok := raw.([]interface{})
	if !ok || len(list) != n {
		return nil, errors.Errorf("%q must be a list of %d numbers", key, n)
	}
	out := make([]float64, n)
	for i, v := range list {
		f, ok := v.(float64)
		if !ok {
			return nil, errors.Errorf("%q must be a list of %d numbers", key, n)
		}
		out[i] = f
	}
	return out, nil
}

func vectorArg(cmd map[string]interface{}, key string) (r3.Vector, error) {
	v, err := floatsArg(cmd, key, 3)
	if err != nil {
		return r3.Vector{}, err
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}, nil
}

func pointArg(cmd map[string]interface{}) (r3.Vector, error) {
	var p [3]float64
	for i, key := range []string{"x", "y", "z"} {
		f, ok := cmd[key].(float64)
		if !ok {
			return r3.Vector{}, errors.Errorf("jacobian_move requires numeric %q", key)
		}
		p[i] = f
	}
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}, nil
}

func obstacleArg(cmd map[string]interface{}) (ObstacleConfig, error) {
	o := ObstacleConfig{}
	o.Label, _ = cmd["label"].(string)
	o.Type, _ = cmd["type"].(string)
	center, err := floatsArg(cmd, "center", 3)
	if err != nil {
		return o, err
	}
	copy(o.Center[:], center)
	if o.Type == "box" {
		dims, err := floatsArg(cmd, "dims", 3)
		if err != nil {
			return o, err
		}
		copy(o.Dims[:], dims)
	}
	o.Radius, _ = cmd["radius"].(float64)
	if o.Label == "" {
		return o, errors.New("add_obstacle requires a 'label'")
	}
	return o, nil
}
