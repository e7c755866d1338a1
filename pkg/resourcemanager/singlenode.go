package resourcemanager

import (
	"fmt"
	"runtime"

	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// SingleNode is the fallback backend for a pilot running on the host
// it was launched on with no scheduler in the loop: one node, sized
// from runtime.NumCPU unless Cores is set explicitly.
type SingleNode struct {
	Name  string
	Cores int
	Gpus  int

	logger zerolog.Logger
	nodes  []types.Node
}

// NewSingleNode creates a SingleNode backend. cores<=0 defaults to
// runtime.NumCPU().
func NewSingleNode(name string, cores, gpus int) *SingleNode {
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	return &SingleNode{
		Name:   name,
		Cores:  cores,
		Gpus:   gpus,
		logger: log.WithComponent("resourcemanager.singlenode"),
	}
}

// Discover implements RM.
func (s *SingleNode) Discover() ([]types.Node, error) {
	nodes := []types.Node{{Name: s.Name, UID: "node.0000", Cores: s.Cores, Gpus: s.Gpus}}
	if err := validate(nodes); err != nil {
		return nil, err
	}
	s.nodes = nodes
	s.logger.Info().Int("cores", s.Cores).Int("gpus", s.Gpus).Msg("discovered single-node inventory")
	return nodes, nil
}

// SlotsForSubAgent implements RM. A single-node pilot has nowhere else
// to put a sub-agent, so it always shares the one node.
func (s *SingleNode) SlotsForSubAgent(uid string) (types.Node, error) {
	if len(s.nodes) == 0 {
		return types.Node{}, rpcerrors.Config(fmt.Errorf("discover() not called yet"))
	}
	return s.nodes[0], nil
}
