package jogarm

import (
	"context"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

var testJointNames = []string{"j1", "j2", "j3", "j4", "j5", "j6"}

func testConfig() *Config {
	cfg := &Config{
		MoveGroupName:        "manipulator",
		Scale:                ScaleConfig{Linear: floatPtr(1), Rotational: floatPtr(1)},
		LowPassFilterCoeff:   floatPtr(1),
		JointTopic:           "joint_states",
		CommandInTopic:       "jog_arm/delta_jog_cmds",
		CommandFrame:         "base",
		CommandOutTopic:      "jog_arm/command",
		CollisionTopic:       "jog_arm/in_collision",
		SingularityTopic:     "jog_arm/in_singularity",
		PlanningFrame:        "base",
		IncomingCmdTimeout:   1,
		PubPeriod:            0.01,
		SingularityThreshold: floatPtr(10),
		HardStopThreshold:    floatPtr(100),
	}
	if err := cfg.validate("test"); err != nil {
		panic(err)
	}
	return cfg
}

func floatPtr(v float64) *float64 {
	return &v
}

// diagKinematics returns a diagonal Jacobian regardless of joint positions.
type diagKinematics struct {
	mu    sync.Mutex
	names []string
	diag  []float64
	rows  int
}

func newDiagKinematics(diag ...float64) *diagKinematics {
	if len(diag) == 0 {
		diag = []float64{1, 1, 1, 1, 1, 1}
	}
	return &diagKinematics{names: testJointNames[:len(diag)], diag: diag, rows: 6}
}

func (k *diagKinematics) JointNames() []string {
	return append([]string(nil), k.names...)
}

func (k *diagKinematics) setDiag(diag ...float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.diag = diag
}

func (k *diagKinematics) Jacobian(positions []float64) (*mat.Dense, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	jac := mat.NewDense(k.rows, len(k.diag), nil)
	for i, d := range k.diag {
		if i < k.rows {
			jac.Set(i, i, d)
		}
	}
	return jac, nil
}

type failingFrames struct {
	err error
}

func (f failingFrames) TransformVector(ctx context.Context, from, to string, v r3.Vector) (r3.Vector, error) {
	return r3.Vector{}, f.err
}

type published struct {
	topic string
	msg   any
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(topic string, msg any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, msg: msg})
}

func (p *recordingPublisher) on(topic string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m.msg)
		}
	}
	return out
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func jointStateAt(names []string, positions ...float64) JointState {
	js := NewJointState(names)
	copy(js.Position, positions)
	return js
}
