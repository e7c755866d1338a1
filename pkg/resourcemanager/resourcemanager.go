package resourcemanager

import (
	"fmt"

	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/types"
)

// RM discovers the node inventory available to an agent and picks a
// node for each sub-agent (§4.3).
type RM interface {
	// Discover produces the node inventory. Called exactly once per
	// agent lifetime; the result is immutable thereafter.
	Discover() ([]types.Node, error)

	// SlotsForSubAgent returns the node a sub-agent with the given uid
	// should bind to. It reserves no core on that node: the scheduler
	// can still place workload tasks on all of its cores.
	SlotsForSubAgent(uid string) (types.Node, error)
}

// validate enforces the §4.3 consistency invariant shared by every
// backend: no node may advertise zero cores.
func validate(nodes []types.Node) error {
	if len(nodes) == 0 {
		return rpcerrors.Config(fmt.Errorf("resource manager discovered no nodes"))
	}
	for _, n := range nodes {
		if n.Cores <= 0 {
			return rpcerrors.Config(fmt.Errorf("node %s advertises zero cores", n.Name))
		}
	}
	return nil
}

// subAgentSlot picks node index uidHash(uid) % len(nodes), deterministic
// per uid so repeated calls (e.g. after a restart) return the same node.
func subAgentSlot(nodes []types.Node, uid string) types.Node {
	var h uint32
	for i := 0; i < len(uid); i++ {
		h = h*31 + uint32(uid[i])
	}
	return nodes[int(h)%len(nodes)]
}
