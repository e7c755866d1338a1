package config

import (
	"fmt"
	"os"

	"github.com/rpilot/pilot/pkg/rpcerrors"
	"gopkg.in/yaml.v3"
)

// LMInfo is the result of probing a launch method's environment once
// (mpi flavor, launcher path, cores-per-node) so later launches on the
// same sandbox skip re-probing (§4.5).
type LMInfo struct {
	Name        string            `yaml:"name"`
	LauncherEnv map[string]string `yaml:"launcher_env,omitempty"`
	Details     map[string]string `yaml:"details,omitempty"`
}

// LoadLMInfo reads a cached probe result from path. A missing file is
// not an error — callers probe and then call SaveLMInfo.
func LoadLMInfo(path string) (*LMInfo, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, rpcerrors.Config(fmt.Errorf("read lm_info: %w", err))
	}

	var info LMInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, rpcerrors.Config(fmt.Errorf("parse lm_info: %w", err))
	}
	return &info, nil
}

// SaveLMInfo writes a probe result to path as YAML.
func SaveLMInfo(path string, info *LMInfo) error {
	data, err := yaml.Marshal(info)
	if err != nil {
		return rpcerrors.Config(fmt.Errorf("marshal lm_info: %w", err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return rpcerrors.Config(fmt.Errorf("write lm_info: %w", err))
	}
	return nil
}
