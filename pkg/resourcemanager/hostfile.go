package resourcemanager

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// Hostfile discovers inventory from a site-provided host file: one line
// per node, "name cores[:gpus]". Blank lines and lines starting with #
// are ignored. This is the LSF/PBS/Torque-style discovery path.
type Hostfile struct {
	Path   string
	logger zerolog.Logger
	nodes  []types.Node
}

// NewHostfile creates a Hostfile backend reading from path.
func NewHostfile(path string) *Hostfile {
	return &Hostfile{Path: path, logger: log.WithComponent("resourcemanager.hostfile")}
}

// Discover implements RM.
func (h *Hostfile) Discover() ([]types.Node, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		return nil, rpcerrors.Config(fmt.Errorf("open hostfile %s: %w", h.Path, err))
	}
	defer f.Close()

	var nodes []types.Node
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, rpcerrors.Config(fmt.Errorf("hostfile line %q: expected \"name cores[:gpus]\"", line))
		}
		cores, gpus, err := parseCoresGpus(fields[1])
		if err != nil {
			return nil, rpcerrors.Config(fmt.Errorf("hostfile line %q: %w", line, err))
		}
		nodes = append(nodes, types.Node{
			Name:  fields[0],
			UID:   fmt.Sprintf("node.%04d", len(nodes)),
			Cores: cores,
			Gpus:  gpus,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, rpcerrors.Config(fmt.Errorf("read hostfile %s: %w", h.Path, err))
	}

	if err := validate(nodes); err != nil {
		return nil, err
	}
	h.nodes = nodes
	h.logger.Info().Int("nodes", len(nodes)).Msg("discovered inventory from hostfile")
	return nodes, nil
}

// SlotsForSubAgent implements RM.
func (h *Hostfile) SlotsForSubAgent(uid string) (types.Node, error) {
	if len(h.nodes) == 0 {
		return types.Node{}, rpcerrors.Config(fmt.Errorf("discover() not called yet"))
	}
	return subAgentSlot(h.nodes, uid), nil
}

// parseCoresGpus parses "8" or "8:2" into (cores, gpus).
func parseCoresGpus(spec string) (int, int, error) {
	parts := strings.SplitN(spec, ":", 2)
	cores, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid core count %q: %w", parts[0], err)
	}
	if len(parts) == 1 {
		return cores, 0, nil
	}
	gpus, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid gpu count %q: %w", parts[1], err)
	}
	return cores, gpus, nil
}
