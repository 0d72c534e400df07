package jogarm

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"
)

const degToRad = math.Pi / 180

var (
	// ErrFrameUnavailable means a frame exists but cannot be related to the target frame.
	ErrFrameUnavailable = errors.New("frame unavailable")
	// ErrTransformTimedOut means a frame did not become known before the transform timeout.
	ErrTransformTimedOut = errors.New("timed out waiting for transform")
)

const framePollInterval = 5 * time.Millisecond

// FrameTransformer re-expresses free vectors between named frames.
type FrameTransformer interface {
	TransformVector(ctx context.Context, from, to string, v r3.Vector) (r3.Vector, error)
}

type staticFrame struct {
	parent string
	pose   spatialmath.Pose
}

// StaticFrames is a tree of fixed frames rooted at one frame, normally the planning frame.
type StaticFrames struct {
	mu      sync.RWMutex
	root    string
	frames  map[string]staticFrame
	timeout time.Duration
}

// NewStaticFrames returns a tree containing only root. Lookups of frames that
// are not yet known wait up to timeout for them to be added.
func NewStaticFrames(root string, timeout time.Duration) *StaticFrames {
	return &StaticFrames{
		root:    root,
		frames:  make(map[string]staticFrame),
		timeout: timeout,
	}
}

// AddFrame adds or replaces name, placed at pose relative to parent.
func (s *StaticFrames) AddFrame(name, parent string, pose spatialmath.Pose) error {
	if name == "" || name == s.root {
		return errors.Errorf("cannot redefine frame %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[name] = staticFrame{parent: parent, pose: pose}
	return nil
}

// TransformVector rotates v from frame from into frame to. Translations do not
// apply to free vectors such as velocities.
func (s *StaticFrames) TransformVector(ctx context.Context, from, to string, v r3.Vector) (r3.Vector, error) {
	if from == to {
		return v, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for {
		fromPose, fromErr := s.poseInRoot(from)
		toPose, toErr := s.poseInRoot(to)
		switch {
		case fromErr == nil && toErr == nil:
			inRoot := rotate(fromPose.Orientation(), v)
			return rotate(spatialmath.PoseInverse(toPose).Orientation(), inRoot), nil
		case errors.Is(fromErr, ErrFrameUnavailable):
			return r3.Vector{}, fromErr
		case errors.Is(toErr, ErrFrameUnavailable):
			return r3.Vector{}, toErr
		}
		if !goutils.SelectContextOrWait(ctx, framePollInterval) {
			return r3.Vector{}, errors.Wrapf(ErrTransformTimedOut, "%q to %q after %v", from, to, s.timeout)
		}
	}
}

var errFrameUnknown = errors.New("frame unknown")

func (s *StaticFrames) poseInRoot(name string) (spatialmath.Pose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pose := spatialmath.NewZeroPose()
	seen := map[string]bool{}
	for current := name; current != s.root; {
		if seen[current] {
			return nil, errors.Wrapf(ErrFrameUnavailable, "cycle through %q", current)
		}
		seen[current] = true
		f, ok := s.frames[current]
		if !ok {
			return nil, errors.Wrapf(errFrameUnknown, "%q", current)
		}
		pose = spatialmath.Compose(f.pose, pose)
		current = f.parent
	}
	return pose, nil
}

func rotate(o spatialmath.Orientation, v r3.Vector) r3.Vector {
	return spatialmath.Compose(spatialmath.NewPoseFromOrientation(o), spatialmath.NewPoseFromPoint(v)).Point()
}

// NewStaticFramesFromConfig builds the frame tree declared in cfg.
func NewStaticFramesFromConfig(cfg *Config) (*StaticFrames, error) {
	frames := NewStaticFrames(cfg.PlanningFrame, cfg.transformTimeout())
	for _, f := range cfg.Frames {
		if err := frames.AddFrame(f.Name, f.Parent, f.Pose()); err != nil {
			return nil, err
		}
	}
	return frames, nil
}
