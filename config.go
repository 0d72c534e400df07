package jogarm

import (
	"maps"
	"os"
	"slices"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	"gopkg.in/yaml.v3"
)

// ScaleConfig holds the Cartesian command gains. Both are required.
type ScaleConfig struct {
	Linear     *float64 `json:"linear" yaml:"linear"`
	Rotational *float64 `json:"rotational" yaml:"rotational"`
}

// FrameConfig declares a static frame relative to its parent.
// Translation is in mm and the orientation is an axis-angle in degrees.
type FrameConfig struct {
	Name        string     `json:"name" yaml:"name"`
	Parent      string     `json:"parent" yaml:"parent"`
	Translation [3]float64 `json:"translation,omitempty" yaml:"translation,omitempty"`
	Axis        [3]float64 `json:"axis,omitempty" yaml:"axis,omitempty"`
	AngleDegs   float64    `json:"angle_degs,omitempty" yaml:"angle_degs,omitempty"`
}

// Pose returns the frame offset as a pose.
func (f FrameConfig) Pose() spatialmath.Pose {
	point := r3.Vector{X: f.Translation[0], Y: f.Translation[1], Z: f.Translation[2]}
	if f.AngleDegs == 0 {
		return spatialmath.NewPoseFromPoint(point)
	}
	orient := &spatialmath.R4AA{
		Theta: f.AngleDegs * degToRad,
		RX:    f.Axis[0],
		RY:    f.Axis[1],
		RZ:    f.Axis[2],
	}
	return spatialmath.NewPose(point, orient)
}

// ObstacleConfig is a static obstacle in the planning frame, dimensions in mm.
type ObstacleConfig struct {
	Label  string     `json:"label" yaml:"label"`
	Type   string     `json:"type" yaml:"type"` // "box" or "sphere"
	Center [3]float64 `json:"center" yaml:"center"`
	Dims   [3]float64 `json:"dims,omitempty" yaml:"dims,omitempty"`
	Radius float64    `json:"radius,omitempty" yaml:"radius,omitempty"`
}

// Geometry builds the obstacle.
func (o ObstacleConfig) Geometry() (spatialmath.Geometry, error) {
	center := spatialmath.NewPoseFromPoint(r3.Vector{X: o.Center[0], Y: o.Center[1], Z: o.Center[2]})
	switch o.Type {
	case "box":
		return spatialmath.NewBox(center, r3.Vector{X: o.Dims[0], Y: o.Dims[1], Z: o.Dims[2]}, o.Label)
	case "sphere":
		return spatialmath.NewSphere(center, o.Radius, o.Label)
	default:
		return nil, errors.Errorf("obstacle %q: unsupported type %q", o.Label, o.Type)
	}
}

// Config configures the jog server. Durations are in seconds.
type Config struct {
	// Arm is the Viam arm to drive; only required when running as a service.
	Arm string `json:"arm,omitempty" yaml:"arm,omitempty"`

	MoveGroupName string      `json:"move_group_name" yaml:"move_group_name"`
	JointNames    []string    `json:"joint_names,omitempty" yaml:"joint_names,omitempty"`
	Scale         ScaleConfig `json:"scale" yaml:"scale"`

	LowPassFilterCoeff *float64 `json:"low_pass_filter_coeff" yaml:"low_pass_filter_coeff"`

	JointTopic         string  `json:"joint_topic" yaml:"joint_topic"`
	CommandInTopic     string  `json:"cmd_in_topic" yaml:"cmd_in_topic"`
	CommandFrame       string  `json:"cmd_frame" yaml:"cmd_frame"`
	CommandOutTopic    string  `json:"cmd_out_topic" yaml:"cmd_out_topic"`
	CollisionTopic     string  `json:"in_collision_topic" yaml:"in_collision_topic"`
	SingularityTopic   string  `json:"in_singularity_topic" yaml:"in_singularity_topic"`
	PlanningFrame      string  `json:"planning_frame" yaml:"planning_frame"`
	IncomingCmdTimeout float64 `json:"incoming_cmd_timeout" yaml:"incoming_cmd_timeout"`
	PubPeriod          float64 `json:"pub_period" yaml:"pub_period"`

	SingularityThreshold *float64 `json:"singularity_threshold" yaml:"singularity_threshold"`
	HardStopThreshold    *float64 `json:"hard_stop_singularity_threshold" yaml:"hard_stop_singularity_threshold"`

	Simulation     bool `json:"simu" yaml:"simu"`
	CollisionCheck bool `json:"coll_check" yaml:"coll_check"`

	CollisionRateHz   float64          `json:"collision_rate_hz,omitempty" yaml:"collision_rate_hz,omitempty"`
	CollisionBufferMM float64          `json:"collision_buffer_mm,omitempty" yaml:"collision_buffer_mm,omitempty"`
	TransformTimeout  float64          `json:"transform_timeout,omitempty" yaml:"transform_timeout,omitempty"`
	FeedbackRateHz    float64          `json:"feedback_rate_hz,omitempty" yaml:"feedback_rate_hz,omitempty"`
	Frames            []FrameConfig    `json:"frames,omitempty" yaml:"frames,omitempty"`
	Obstacles         []ObstacleConfig `json:"obstacles,omitempty" yaml:"obstacles,omitempty"`
	RecordPath        string           `json:"record_path,omitempty" yaml:"record_path,omitempty"`
}

// Validate fills in defaults and checks the configuration. The arm, when set,
// is returned as a required dependency.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if err := cfg.validate(path); err != nil {
		return nil, nil, err
	}
	var deps []string
	if cfg.Arm != "" {
		deps = append(deps, cfg.Arm)
	}
	return deps, nil, nil
}

func (cfg *Config) validate(path string) error {
	required := map[string]string{
		"move_group_name":      cfg.MoveGroupName,
		"joint_topic":          cfg.JointTopic,
		"cmd_in_topic":         cfg.CommandInTopic,
		"cmd_frame":            cfg.CommandFrame,
		"cmd_out_topic":        cfg.CommandOutTopic,
		"planning_frame":       cfg.PlanningFrame,
		"in_collision_topic":   cfg.CollisionTopic,
		"in_singularity_topic": cfg.SingularityTopic,
	}
	for _, field := range slices.Sorted(maps.Keys(required)) {
		if required[field] == "" {
			return resource.NewConfigValidationFieldRequiredError(path, field)
		}
	}
	// Zero is a meaningful value for these, so absence is tracked separately.
	requiredNumbers := map[string]*float64{
		"scale.linear":                    cfg.Scale.Linear,
		"scale.rotational":                cfg.Scale.Rotational,
		"low_pass_filter_coeff":           cfg.LowPassFilterCoeff,
		"singularity_threshold":           cfg.SingularityThreshold,
		"hard_stop_singularity_threshold": cfg.HardStopThreshold,
	}
	for _, field := range slices.Sorted(maps.Keys(requiredNumbers)) {
		if requiredNumbers[field] == nil {
			return resource.NewConfigValidationFieldRequiredError(path, field)
		}
	}

	// Defaults for the optional fields
	if cfg.CollisionRateHz == 0 {
		cfg.CollisionRateHz = 100
	}
	if cfg.TransformTimeout == 0 {
		cfg.TransformTimeout = 0.2
	}
	if cfg.FeedbackRateHz == 0 {
		cfg.FeedbackRateHz = 50
	}

	if cfg.singularityThreshold() < 0 || cfg.hardStopThreshold() < 0 {
		return resource.NewConfigValidationError(path,
			errors.New("singularity thresholds must be non-negative"))
	}
	if cfg.hardStopThreshold() < cfg.singularityThreshold() {
		return resource.NewConfigValidationError(path,
			errors.Errorf("hard_stop_singularity_threshold (%v) must be >= singularity_threshold (%v)",
				cfg.hardStopThreshold(), cfg.singularityThreshold()))
	}
	if c := cfg.filterCoeff(); c < 0 || c > 1 {
		return resource.NewConfigValidationError(path,
			errors.Errorf("low_pass_filter_coeff must be in [0,1], got %v", c))
	}
	if cfg.PubPeriod <= 0 {
		return resource.NewConfigValidationError(path, errors.New("pub_period must be positive"))
	}
	if cfg.IncomingCmdTimeout <= 0 {
		return resource.NewConfigValidationError(path, errors.New("incoming_cmd_timeout must be positive"))
	}
	if cfg.CollisionRateHz < 0 || cfg.FeedbackRateHz < 0 || cfg.TransformTimeout < 0 || cfg.CollisionBufferMM < 0 {
		return resource.NewConfigValidationError(path, errors.New("rates, buffers and timeouts must be non-negative"))
	}
	for _, f := range cfg.Frames {
		if f.Name == "" || f.Parent == "" {
			return resource.NewConfigValidationError(path, errors.New("frames need a name and a parent"))
		}
	}
	for _, o := range cfg.Obstacles {
		if _, err := o.Geometry(); err != nil {
			return resource.NewConfigValidationError(path, err)
		}
	}
	return nil
}

func (cfg *Config) linearScale() float64          { return valueOrZero(cfg.Scale.Linear) }
func (cfg *Config) rotationalScale() float64      { return valueOrZero(cfg.Scale.Rotational) }
func (cfg *Config) filterCoeff() float64          { return valueOrZero(cfg.LowPassFilterCoeff) }
func (cfg *Config) singularityThreshold() float64 { return valueOrZero(cfg.SingularityThreshold) }
func (cfg *Config) hardStopThreshold() float64    { return valueOrZero(cfg.HardStopThreshold) }

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func (cfg *Config) pubPeriod() time.Duration {
	return secondsToDuration(cfg.PubPeriod)
}

func (cfg *Config) commandTimeout() time.Duration {
	return secondsToDuration(cfg.IncomingCmdTimeout)
}

func (cfg *Config) transformTimeout() time.Duration {
	return secondsToDuration(cfg.TransformTimeout)
}

func (cfg *Config) collisionPeriod() time.Duration {
	return secondsToDuration(1 / cfg.CollisionRateHz)
}

func (cfg *Config) feedbackPeriod() time.Duration {
	return secondsToDuration(1 / cfg.FeedbackRateHz)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	if _, _, err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}
