package agent0

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rpilot/pilot/pkg/config"
	"github.com/rpilot/pilot/pkg/launchmethod"
	"github.com/rpilot/pilot/pkg/resourcemanager"
	"github.com/rpilot/pilot/pkg/rpcerrors"
)

// SelectResourceManager builds the RM backend named by cfg.ResourceManager
// (§4.3). An empty value defaults to "local", the single-node fallback.
func SelectResourceManager(cfg *config.AgentConfig) (resourcemanager.RM, error) {
	opts := cfg.ResourceManagerOptions
	switch strings.ToLower(cfg.ResourceManager) {
	case "", "local", "singlenode":
		return resourcemanager.NewSingleNode(cfg.ResourceLabel, cfg.Cores, cfg.Gpus), nil
	case "envvar":
		return resourcemanager.NewEnvVar(opts["node_list_var"], opts["cores_per_node_var"], opts["gpus_per_node_var"]), nil
	case "hostfile":
		path := opts["path"]
		if path == "" {
			return nil, rpcerrors.Config(fmt.Errorf("resource_manager hostfile requires resource_manager_options.path"))
		}
		return resourcemanager.NewHostfile(path), nil
	default:
		return nil, rpcerrors.Config(fmt.Errorf("unknown resource_manager %q", cfg.ResourceManager))
	}
}

// launchMethodFactory resolves cfg.LaunchMethod to the Factory that
// probes or rehydrates it. An empty value defaults to "fork".
func launchMethodFactory(cfg *config.AgentConfig) (launchmethod.Factory, error) {
	opts := cfg.LaunchMethodOptions
	switch strings.ToLower(cfg.LaunchMethod) {
	case "", "fork":
		return launchmethod.ForkFactory{}, nil
	case "mpiexec":
		return launchmethod.MPIExecFactory{Variant: opts["variant"]}, nil
	case "srun":
		return launchmethod.SrunFactory{}, nil
	case "containerd":
		return launchmethod.ContainerdFactory{SocketPath: opts["socket"]}, nil
	default:
		return nil, rpcerrors.Config(fmt.Errorf("unknown launch_method %q", cfg.LaunchMethod))
	}
}

// lmInfoPath is where an agent caches its launch method's probe result,
// so a sub-agent restart (or a second launch on the same sandbox)
// rehydrates instead of re-probing the host (§4.5).
func lmInfoPath(cfg *config.AgentConfig) string {
	return filepath.Join(cfg.SandboxURL, "lm_info.yaml")
}

// SelectLaunchMethod resolves cfg.LaunchMethod's LM, reusing a cached
// probe from lm_info.yaml under the pilot sandbox when one exists
// (InitFromInfo) or probing the host fresh and caching the result
// otherwise (InitFromScratch). Returns the LM and the info now on disk.
func SelectLaunchMethod(cfg *config.AgentConfig) (launchmethod.LM, *config.LMInfo, error) {
	factory, err := launchMethodFactory(cfg)
	if err != nil {
		return nil, nil, err
	}

	path := lmInfoPath(cfg)
	cached, err := config.LoadLMInfo(path)
	if err != nil {
		return nil, nil, err
	}
	if cached != nil {
		lm, err := factory.InitFromInfo(cached)
		if err != nil {
			return nil, nil, err
		}
		return lm, cached, nil
	}

	lm, info, err := factory.InitFromScratch()
	if err != nil {
		return nil, nil, err
	}
	if err := config.SaveLMInfo(path, info); err != nil {
		return nil, nil, err
	}
	return lm, info, nil
}
