package jogarm

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"
	"golang.org/x/time/rate"
)

// CollisionScene answers whether the arm at a given joint state is in collision.
type CollisionScene interface {
	InCollision(ctx context.Context, joints JointState) (bool, error)
}

// GeometryScene checks the arm's link geometries against static obstacles.
type GeometryScene struct {
	kin      *ModelKinematics
	bufferMM float64

	mu        sync.RWMutex
	obstacles []spatialmath.Geometry
}

// NewGeometryScene returns a scene for kin. Links closer than bufferMM to an
// obstacle count as colliding.
func NewGeometryScene(kin *ModelKinematics, bufferMM float64, obstacles ...spatialmath.Geometry) *GeometryScene {
	return &GeometryScene{kin: kin, bufferMM: bufferMM, obstacles: obstacles}
}

// AddObstacle adds a geometry, expressed in the planning frame, to the scene.
func (s *GeometryScene) AddObstacle(g spatialmath.Geometry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obstacles = append(s.obstacles, g)
}

// Obstacles returns the current obstacle labels.
func (s *GeometryScene) Obstacles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	labels := make([]string, 0, len(s.obstacles))
	for _, o := range s.obstacles {
		labels = append(labels, o.Label())
	}
	return labels
}

func (s *GeometryScene) InCollision(ctx context.Context, joints JointState) (bool, error) {
	working := NewJointState(s.kin.JointNames())
	if err := working.MergePositions(joints); err != nil {
		return false, err
	}
	links, err := s.kin.Geometries(working.Position)
	if err != nil {
		return false, errors.Wrap(err, "computing link geometries")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, obstacle := range s.obstacles {
		for _, link := range links {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			dist, err := link.DistanceFrom(obstacle)
			if err != nil {
				return false, errors.Wrapf(err, "distance from %q to %q", link.Label(), obstacle.Label())
			}
			if dist <= s.bufferMM {
				return true, nil
			}
		}
	}
	return false, nil
}

// CollisionMonitor periodically re-evaluates the collision state of the latest
// joint feedback and shares the verdict through the hub.
type CollisionMonitor struct {
	hub    *Hub
	scene  CollisionScene
	pub    Publisher
	topic  string
	period time.Duration
	logger logging.Logger

	errWarn rate.Sometimes
}

func NewCollisionMonitor(cfg *Config, hub *Hub, scene CollisionScene, pub Publisher, logger logging.Logger) *CollisionMonitor {
	return &CollisionMonitor{
		hub:     hub,
		scene:   scene,
		pub:     pub,
		topic:   cfg.CollisionTopic,
		period:  cfg.collisionPeriod(),
		logger:  logger,
		errWarn: rate.Sometimes{Interval: warnInterval},
	}
}

// Check runs one query. A failed query leaves the previous verdict in place.
func (m *CollisionMonitor) Check(ctx context.Context) (bool, error) {
	joints, ok := m.hub.JointState()
	if !ok {
		return false, errors.New("no joint feedback yet")
	}
	collision, err := m.scene.InCollision(ctx, joints)
	if err != nil {
		return false, err
	}
	m.hub.SetImminentCollision(collision)
	m.pub.Publish(m.topic, collision)
	return collision, nil
}

// Run waits for the first joint feedback and then checks at the configured rate.
func (m *CollisionMonitor) Run(ctx context.Context) {
	for {
		if _, ok := m.hub.JointState(); ok {
			break
		}
		if !goutils.SelectContextOrWait(ctx, startupPoll) {
			return
		}
	}
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
			m.errWarn.Do(func() { m.logger.Warnf("collision check failed: %v", err) })
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
