// discovery_test.go
package jogarm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/services/generic"
)

func TestJogServiceName(t *testing.T) {
	tests := []struct {
		name     string
		armName  string
		expected string
	}{
		{name: "Plain name", armName: "arm", expected: "arm-jog"},
		{name: "Spaces", armName: "left arm", expected: "left_arm-jog"},
		{name: "Padded", armName: " ur5 ", expected: "ur5-jog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, jogServiceName(tt.armName))
		})
	}
}

func TestIsCandidateArm(t *testing.T) {
	assert.False(t, isCandidateArm(5))
	assert.True(t, isCandidateArm(6))
	assert.True(t, isCandidateArm(7))
}

func TestFindRecordFile(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()

	assert.Equal(t, "", findRecordFile(dir, "arm1", logger))

	path := filepath.Join(dir, "arm1-jog.db")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	assert.Equal(t, path, findRecordFile(dir, "arm1", logger))
}

func TestJogServiceConfigIsValid(t *testing.T) {
	conf := jogServiceConfig("arm1", "/data/arm1-jog.db")
	assert.Equal(t, "arm1-jog", conf.Name)
	assert.Equal(t, generic.API, conf.API)
	assert.Equal(t, Model, conf.Model)

	// The proposed attributes must decode into a valid config.
	raw, err := json.Marshal(conf.Attributes)
	require.NoError(t, err)
	cfg := &Config{}
	require.NoError(t, json.Unmarshal(raw, cfg))
	deps, _, err := cfg.Validate("services.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"arm1"}, deps)
	assert.Equal(t, "arm1-jog/command", cfg.CommandOutTopic)
	assert.Equal(t, "/data/arm1-jog.db", cfg.RecordPath)
}

func TestDiscoverResources(t *testing.T) {
	ctx := context.Background()
	t.Setenv("VIAM_MODULE_DATA", t.TempDir())

	t.Run("simulated arm when none configured", func(t *testing.T) {
		dis := &jogDiscovery{logger: logging.NewTestLogger(t)}
		configs, err := dis.DiscoverResources(ctx, nil)
		require.NoError(t, err)
		require.Len(t, configs, 2)
		assert.Equal(t, arm.API, configs[0].API)
		assert.Equal(t, SimulatedArmModel, configs[0].Model)
		assert.Equal(t, "jog-sim-arm-jog", configs[1].Name)
	})

	t.Run("configured arm", func(t *testing.T) {
		dis := &jogDiscovery{
			logger: logging.NewTestLogger(t),
			arms:   map[string]arm.Arm{"arm1": newTestArm(t)},
		}
		configs, err := dis.DiscoverResources(ctx, nil)
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.Equal(t, "arm1-jog", configs[0].Name)
		assert.Equal(t, "arm1", configs[0].Attributes["arm"])
	})

	t.Run("configs follow arm name order", func(t *testing.T) {
		dis := &jogDiscovery{
			logger: logging.NewTestLogger(t),
			arms: map[string]arm.Arm{
				"wrist": newTestArm(t),
				"alpha": newTestArm(t),
				"mid":   newTestArm(t),
			},
		}
		for range 5 {
			configs, err := dis.DiscoverResources(ctx, nil)
			require.NoError(t, err)
			require.Len(t, configs, 3)
			assert.Equal(t, "alpha-jog", configs[0].Name)
			assert.Equal(t, "mid-jog", configs[1].Name)
			assert.Equal(t, "wrist-jog", configs[2].Name)
		}
	})
}

func TestJogDiscoveryConfigValidate(t *testing.T) {
	deps, _, err := (&JogDiscoveryConfig{Arms: []string{"a", "b"}}).Validate("services.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, deps)

	_, _, err = (&JogDiscoveryConfig{Arms: []string{""}}).Validate("services.1")
	assert.Error(t, err)
}
