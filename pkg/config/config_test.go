package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rpilot/pilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *AgentConfig {
	return &AgentConfig{
		SID:             "rp.session.0001",
		PilotID:         "pilot.0000",
		PMgrID:          "pmgr.0000",
		AgentID:         "agent_0",
		SandboxURL:      "file:///tmp/pilot.0000",
		ResourceManager: "hostfile",
		LaunchMethod:    "mpiexec",
		Heartbeat:       DefaultHeartbeat(),
		Components:      []string{"scheduler", "executor", "raptor_master"},
		Bridges:         map[string]BridgeSpec{"state_pubsub": {Kind: "pubsub"}},
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cfg := validConfig()
	cfg.PilotID = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.ResourceManager = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Heartbeat = HeartbeatConfig{Interval: 0, Timeout: 0}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvertedHeartbeat(t *testing.T) {
	cfg := validConfig()
	cfg.Heartbeat = HeartbeatConfig{Interval: 10 * time.Second, Timeout: time.Second}
	assert.Error(t, cfg.Validate())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := validConfig()
	path := filepath.Join(t.TempDir(), "agent.json")

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.PilotID, loaded.PilotID)
	assert.Equal(t, cfg.Heartbeat, loaded.Heartbeat)
}

func TestDeriveSubAgentConfigDropsRaptorMaster(t *testing.T) {
	parent := validConfig()
	nodes := []types.Node{{Name: "node01", UID: "node.0001", Cores: 32}}

	sub := parent.DeriveSubAgentConfig("agent_1", nodes)

	assert.Equal(t, "agent_1", sub.AgentID)
	assert.Equal(t, nodes, sub.Nodes)
	assert.Equal(t, 0, sub.RaptorWorkers)
	assert.NotContains(t, sub.Components, "raptor_master")
	assert.Contains(t, sub.Components, "scheduler")

	// Mutating the sub's bridge catalog must not alias the parent's.
	sub.Bridges["extra"] = BridgeSpec{Kind: "queue"}
	assert.NotContains(t, parent.Bridges, "extra")
}

func TestLMInfoRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lm_info.yaml")

	missing, err := LoadLMInfo(path)
	require.NoError(t, err)
	assert.Nil(t, missing)

	info := &LMInfo{Name: "mpiexec", Details: map[string]string{"flavor": "OpenMPI"}}
	require.NoError(t, SaveLMInfo(path, info))

	loaded, err := LoadLMInfo(path)
	require.NoError(t, err)
	assert.Equal(t, info.Name, loaded.Name)
	assert.Equal(t, info.Details["flavor"], loaded.Details["flavor"])
}
