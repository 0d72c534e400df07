// discovery.go
package jogarm

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"
)

var JogDiscoveryModel = resource.NewModel("viam-labs", "jog-arm", "discovery")

// A twist has six components, so jogging needs at least six joints.
const minJogJoints = 6

func init() {
	resource.RegisterService(
		discovery.API,
		JogDiscoveryModel,
		resource.Registration[discovery.Service, *JogDiscoveryConfig]{
			Constructor: newJogDiscovery,
		})
}

// JogDiscoveryConfig is the configuration for the discovery service
type JogDiscoveryConfig struct {
	// Arms to propose jog services for. When empty a simulated arm is proposed.
	Arms []string `json:"arms,omitempty"`
}

// Validate ensures the config is valid
func (cfg *JogDiscoveryConfig) Validate(path string) ([]string, []string, error) {
	for i, name := range cfg.Arms {
		if name == "" {
			return nil, nil, resource.NewConfigValidationFieldRequiredError(path, fmt.Sprintf("arms.%d", i))
		}
	}
	return append([]string(nil), cfg.Arms...), nil, nil
}

// jogDiscovery implements the discovery service
type jogDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	logger logging.Logger
	arms   map[string]arm.Arm
}

func newJogDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*JogDiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	arms := make(map[string]arm.Arm, len(cfg.Arms))
	for _, name := range cfg.Arms {
		a, err := arm.FromDependencies(deps, name)
		if err != nil {
			return nil, err
		}
		arms[name] = a
	}

	return &jogDiscovery{
		Named:  conf.ResourceName().AsNamed(),
		logger: logger,
		arms:   arms,
	}, nil
}

// DiscoverResources proposes a jog service for every configured arm that can be jogged
func (dis *jogDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting jog-arm discovery")

	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = os.TempDir()
	}

	if len(dis.arms) == 0 {
		dis.logger.Info("No arms configured, proposing a simulated arm")
		return simulatedConfigs(moduleDataDir, dis.logger), nil
	}

	var allConfigs []resource.Config
	for _, name := range slices.Sorted(maps.Keys(dis.arms)) {
		a := dis.arms[name]
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}

		model, err := a.Kinematics(ctx)
		if err != nil {
			dis.logger.Debugf("Skipping %s: %v", name, err)
			continue
		}
		if !isCandidateArm(len(model.DoF())) {
			dis.logger.Debugf("Skipping %s: %d joints cannot follow a 6-DOF twist", name, len(model.DoF()))
			continue
		}
		allConfigs = append(allConfigs, jogServiceConfig(name, findRecordFile(moduleDataDir, name, dis.logger)))
	}

	if len(allConfigs) == 0 {
		dis.logger.Info("No joggable arms discovered")
	} else {
		dis.logger.Infof("Discovered %d jog service configurations", len(allConfigs))
	}
	return allConfigs, nil
}

func simulatedConfigs(moduleDataDir string, logger logging.Logger) []resource.Config {
	const armName = "jog-sim-arm"
	return []resource.Config{
		{
			Name:  armName,
			API:   arm.API,
			Model: SimulatedArmModel,
		},
		jogServiceConfig(armName, findRecordFile(moduleDataDir, armName, logger)),
	}
}

// jogServiceConfig returns a jog service bound to armName with topics
// namespaced by the service name.
func jogServiceConfig(armName, recordPath string) resource.Config {
	name := jogServiceName(armName)
	attrs := map[string]interface{}{
		"arm":                             armName,
		"move_group_name":                 "manipulator",
		"scale":                           map[string]interface{}{"linear": 0.003, "rotational": 0.006},
		"low_pass_filter_coeff":           0.5,
		"joint_topic":                     name + "/joint_states",
		"cmd_in_topic":                    name + "/delta_jog_cmds",
		"cmd_frame":                       "world",
		"cmd_out_topic":                   name + "/command",
		"in_collision_topic":              name + "/in_collision",
		"in_singularity_topic":            name + "/in_singularity",
		"planning_frame":                  "world",
		"incoming_cmd_timeout":            1.0,
		"pub_period":                      0.008,
		"singularity_threshold":           50.0,
		"hard_stop_singularity_threshold": 200.0,
		"coll_check":                      true,
	}
	if recordPath != "" {
		attrs["record_path"] = recordPath
	}
	return resource.Config{
		Name:       name,
		API:        generic.API,
		Model:      Model,
		Attributes: attrs,
	}
}

// isCandidateArm reports whether an arm with dof joints can follow a full twist
func isCandidateArm(dof int) bool {
	return dof >= minJogJoints
}

// jogServiceName derives a resource name from the arm name
// "arm" -> "arm-jog"
// "left arm" -> "left_arm-jog"
func jogServiceName(armName string) string {
	return strings.ReplaceAll(strings.TrimSpace(armName), " ", "_") + "-jog"
}

// findRecordFile looks for an existing session database for armName in
// moduleDataDir so a rediscovered service keeps appending to it.
// Returns the full path or empty string if not found
func findRecordFile(moduleDataDir, armName string, logger logging.Logger) string {
	path := filepath.Join(moduleDataDir, jogServiceName(armName)+".db")
	if _, err := os.Stat(path); err == nil {
		logger.Debugf("Found session database: %s", filepath.Base(path))
		return path
	}
	logger.Debug("No session database found")
	return ""
}
