package resourcemanager

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// EnvVar discovers inventory from scheduler-injected environment
// variables, the SLURM_NODELIST/SLURM_CPUS_ON_NODE-shaped path: one
// node-list variable giving a comma-separated host list, and one
// cores-per-node variable applied uniformly to every node named.
// Gpus-per-node is read from an optional third variable, defaulting to
// zero when unset.
type EnvVar struct {
	NodeListVar     string
	CoresPerNodeVar string
	GpusPerNodeVar  string

	logger zerolog.Logger
	nodes  []types.Node
}

// NewEnvVar creates an EnvVar backend reading the named variables.
// gpusPerNodeVar may be "" if the scheduler never sets one.
func NewEnvVar(nodeListVar, coresPerNodeVar, gpusPerNodeVar string) *EnvVar {
	return &EnvVar{
		NodeListVar:     nodeListVar,
		CoresPerNodeVar: coresPerNodeVar,
		GpusPerNodeVar:  gpusPerNodeVar,
		logger:          log.WithComponent("resourcemanager.envvar"),
	}
}

// Discover implements RM.
func (e *EnvVar) Discover() ([]types.Node, error) {
	nodeList := os.Getenv(e.NodeListVar)
	if nodeList == "" {
		return nil, rpcerrors.Config(fmt.Errorf("%s is unset or empty", e.NodeListVar))
	}
	coresStr := os.Getenv(e.CoresPerNodeVar)
	cores, err := strconv.Atoi(coresStr)
	if err != nil {
		return nil, rpcerrors.Config(fmt.Errorf("%s=%q is not an integer: %w", e.CoresPerNodeVar, coresStr, err))
	}

	gpus := 0
	if e.GpusPerNodeVar != "" {
		if gpusStr := os.Getenv(e.GpusPerNodeVar); gpusStr != "" {
			gpus, err = strconv.Atoi(gpusStr)
			if err != nil {
				return nil, rpcerrors.Config(fmt.Errorf("%s=%q is not an integer: %w", e.GpusPerNodeVar, gpusStr, err))
			}
		}
	}

	var nodes []types.Node
	for _, name := range strings.Split(nodeList, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		nodes = append(nodes, types.Node{
			Name:  name,
			UID:   fmt.Sprintf("node.%04d", len(nodes)),
			Cores: cores,
			Gpus:  gpus,
		})
	}

	if err := validate(nodes); err != nil {
		return nil, err
	}
	e.nodes = nodes
	e.logger.Info().Int("nodes", len(nodes)).Str("source", e.NodeListVar).Msg("discovered inventory from environment")
	return nodes, nil
}

// SlotsForSubAgent implements RM.
func (e *EnvVar) SlotsForSubAgent(uid string) (types.Node, error) {
	if len(e.nodes) == 0 {
		return types.Node{}, rpcerrors.Config(fmt.Errorf("discover() not called yet"))
	}
	return subAgentSlot(e.nodes, uid), nil
}
