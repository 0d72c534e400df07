package jogarm

import (
	"context"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/spatialmath"
)

func assertVectorNear(t *testing.T, want, got r3.Vector) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-9, "x")
	assert.InDelta(t, want.Y, got.Y, 1e-9, "y")
	assert.InDelta(t, want.Z, got.Z, 1e-9, "z")
}

func yaw90(translation r3.Vector) spatialmath.Pose {
	return spatialmath.NewPose(translation, &spatialmath.R4AA{Theta: 90 * degToRad, RZ: 1})
}

func TestStaticFramesTransformVector(t *testing.T) {
	ctx := context.Background()
	frames := NewStaticFrames("base", 100*time.Millisecond)
	require.NoError(t, frames.AddFrame("tool", "base", yaw90(r3.Vector{X: 300, Z: 200})))
	require.NoError(t, frames.AddFrame("camera", "tool", yaw90(r3.Vector{})))

	t.Run("same frame is identity", func(t *testing.T) {
		v := r3.Vector{X: 1, Y: 2, Z: 3}
		got, err := frames.TransformVector(ctx, "tool", "tool", v)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	})

	t.Run("rotation applies and translation does not", func(t *testing.T) {
		got, err := frames.TransformVector(ctx, "tool", "base", r3.Vector{X: 1})
		require.NoError(t, err)
		assertVectorNear(t, r3.Vector{Y: 1}, got)
	})

	t.Run("inverse direction", func(t *testing.T) {
		got, err := frames.TransformVector(ctx, "base", "tool", r3.Vector{Y: 1})
		require.NoError(t, err)
		assertVectorNear(t, r3.Vector{X: 1}, got)
	})

	t.Run("chained frames compose", func(t *testing.T) {
		got, err := frames.TransformVector(ctx, "camera", "base", r3.Vector{X: 1})
		require.NoError(t, err)
		assertVectorNear(t, r3.Vector{X: -1}, got)
	})
}

func TestStaticFramesErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown frame times out", func(t *testing.T) {
		frames := NewStaticFrames("base", 20*time.Millisecond)
		start := time.Now()
		_, err := frames.TransformVector(ctx, "nowhere", "base", r3.Vector{X: 1})
		assert.True(t, errors.Is(err, ErrTransformTimedOut))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("frame added while waiting is used", func(t *testing.T) {
		frames := NewStaticFrames("base", time.Second)
		go func() {
			time.Sleep(20 * time.Millisecond)
			frames.AddFrame("late", "base", yaw90(r3.Vector{}))
		}()
		got, err := frames.TransformVector(ctx, "late", "base", r3.Vector{X: 1})
		require.NoError(t, err)
		assertVectorNear(t, r3.Vector{Y: 1}, got)
	})

	t.Run("cycle is unavailable", func(t *testing.T) {
		frames := NewStaticFrames("base", time.Second)
		require.NoError(t, frames.AddFrame("a", "b", spatialmath.NewZeroPose()))
		require.NoError(t, frames.AddFrame("b", "a", spatialmath.NewZeroPose()))
		_, err := frames.TransformVector(ctx, "a", "base", r3.Vector{X: 1})
		assert.True(t, errors.Is(err, ErrFrameUnavailable))
	})

	t.Run("root cannot be redefined", func(t *testing.T) {
		frames := NewStaticFrames("base", time.Second)
		assert.Error(t, frames.AddFrame("base", "world", spatialmath.NewZeroPose()))
		assert.Error(t, frames.AddFrame("", "base", spatialmath.NewZeroPose()))
	})
}

func TestStaticFramesFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Frames = []FrameConfig{{Name: "tool", Parent: "base", Axis: [3]float64{0, 0, 1}, AngleDegs: 90}}

	frames, err := NewStaticFramesFromConfig(cfg)
	require.NoError(t, err)
	got, err := frames.TransformVector(context.Background(), "tool", "base", r3.Vector{X: 2})
	require.NoError(t, err)
	assertVectorNear(t, r3.Vector{Y: 2}, got)
}
