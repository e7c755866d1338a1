package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/types"
)

// HeartbeatConfig controls the component-manager heartbeat bus (§4.1).
type HeartbeatConfig struct {
	Interval time.Duration `json:"interval"`
	Timeout  time.Duration `json:"timeout"`
}

// DefaultHeartbeat matches the 1s/10s interval/timeout named in §4.1.
func DefaultHeartbeat() HeartbeatConfig {
	return HeartbeatConfig{Interval: time.Second, Timeout: 10 * time.Second}
}

// BridgeSpec configures one named bridge's queue depth and behavior.
type BridgeSpec struct {
	Kind     string `json:"kind"`               // "queue" or "pubsub"
	BulkSize int    `json:"bulk_size"`
	StallHWM int    `json:"stall_hwm"`
}

// AppCommSpec configures an application-requested communication channel
// (workload-visible bridges merged into the agent's own catalog, §6).
type AppCommSpec struct {
	BulkSize int    `json:"bulk_size"`
	StallHWM int    `json:"stall_hwm"`
	LogLevel string `json:"log_level"`
}

// AgentConfig is the JSON document agent_0 (and, in narrowed form, each
// sub-agent) loads at startup.
type AgentConfig struct {
	SID           string `json:"sid"`
	PilotID       string `json:"pilot_id"`
	PMgrID        string `json:"pmgr_id"`
	AgentID       string `json:"agent_id"` // "agent_0", "agent_1", ...
	SandboxURL    string `json:"sandbox_url"`
	ResourceLabel string `json:"resource_label"`
	AccessSchema  string `json:"access_schema"`

	Cores          int `json:"cores"`
	Gpus           int `json:"gpus"`
	RuntimeMinutes int `json:"runtime_minutes"`

	ResourceManager string `json:"resource_manager"` // lrms name: "local", "hostfile", "envvar"
	LaunchMethod    string `json:"launch_method"`     // default lm: "fork", "mpiexec", "srun", "containerd"

	// ResourceManagerOptions carries the backend-specific knobs
	// SelectResourceManager needs: "node_list_var"/"cores_per_node_var"/
	// "gpus_per_node_var" for envvar, "path" for hostfile.
	ResourceManagerOptions map[string]string `json:"resource_manager_options,omitempty"`

	// LaunchMethodOptions carries the backend-specific knobs
	// SelectLaunchMethod needs: "variant" for mpiexec, "socket" for
	// containerd.
	LaunchMethodOptions map[string]string `json:"launch_method_options,omitempty"`

	Bridges    map[string]BridgeSpec  `json:"bridges"`
	Components []string               `json:"components"`
	Heartbeat  HeartbeatConfig        `json:"heartbeat"`
	AppComm    map[string]AppCommSpec `json:"app_comm,omitempty"`

	Nodes []types.Node `json:"nodes"`

	RaptorWorkers int `json:"raptor_workers"`

	// RegistryNodeID/RegistryBindAddr/RegistryDataDir configure this
	// agent's own Raft participant. RegistryLeaderAddr is empty for
	// agent_0 itself (it bootstraps the cluster); a sub-agent carries
	// agent_0's bind address here and joins as a non-voting follower
	// (§4.3, SPEC_FULL.md domain-stack table).
	RegistryNodeID     string `json:"registry_node_id,omitempty"`
	RegistryBindAddr   string `json:"registry_bind_addr,omitempty"`
	RegistryDataDir    string `json:"registry_data_dir,omitempty"`
	RegistryLeaderAddr string `json:"registry_leader_addr,omitempty"`
}

// Load reads and validates an AgentConfig from path.
func Load(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rpcerrors.Config(fmt.Errorf("read agent config: %w", err))
	}

	var cfg AgentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, rpcerrors.Config(fmt.Errorf("parse agent config: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path as JSON, creating parent directories as needed.
func (c *AgentConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return rpcerrors.Config(fmt.Errorf("marshal agent config: %w", err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return rpcerrors.Config(fmt.Errorf("write agent config: %w", err))
	}
	return nil
}

// Validate checks the fields every agent needs regardless of role.
func (c *AgentConfig) Validate() error {
	if c.PilotID == "" {
		return rpcerrors.Config(fmt.Errorf("agent config: pilot_id is required"))
	}
	if c.SandboxURL == "" {
		return rpcerrors.Config(fmt.Errorf("agent config: sandbox_url is required"))
	}
	if c.ResourceManager == "" {
		return rpcerrors.Config(fmt.Errorf("agent config: resource_manager is required"))
	}
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.Timeout <= 0 {
		return rpcerrors.Config(fmt.Errorf("agent config: heartbeat interval/timeout must be positive"))
	}
	if c.Heartbeat.Timeout <= c.Heartbeat.Interval {
		return rpcerrors.Config(fmt.Errorf("agent config: heartbeat timeout must exceed interval"))
	}
	return nil
}

// DeriveSubAgentConfig builds the config a sub-agent reads on its own
// node group: same pilot identity and bridge/component catalog, but
// scoped to the nodes assigned to it and carrying no raptor-master
// responsibility (sub-agents run scheduler/executor/staging, not the
// function-task master).
func (c *AgentConfig) DeriveSubAgentConfig(agentID string, nodes []types.Node) *AgentConfig {
	sub := *c
	sub.AgentID = agentID
	sub.Nodes = nodes
	sub.RaptorWorkers = 0

	sub.Components = make([]string, 0, len(c.Components))
	for _, comp := range c.Components {
		if comp == "raptor_master" {
			continue
		}
		sub.Components = append(sub.Components, comp)
	}

	sub.Bridges = make(map[string]BridgeSpec, len(c.Bridges))
	for name, spec := range c.Bridges {
		sub.Bridges[name] = spec
	}

	return &sub
}
