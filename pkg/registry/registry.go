package registry

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/metrics"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rs/zerolog"
)

// Config configures a Registry node.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Registry is the single-writer KV store, Raft-replicated across
// Agent-0 (leader) and the sub-agents on other node groups.
type Registry struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft   *raft.Raft
	fsm    *fsm
	logger zerolog.Logger
}

// New constructs a Registry; call Bootstrap to form a single-node
// cluster, or Start for a node the leader then adds via AddNonvoter.
func New(cfg Config) (*Registry, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, rpcerrors.Config(fmt.Errorf("create registry data dir: %w", err))
	}
	return &Registry{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      newFSM(),
		logger:   log.WithComponent("registry"),
	}, nil
}

// start builds the Raft instance (transport, snapshot/log/stable
// stores) common to Bootstrap and Start, without forming or joining a
// cluster.
func (r *Registry) start() (*raft.Config, *raft.NetworkTransport, error) {
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(r.nodeID)
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 500 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", r.bindAddr)
	if err != nil {
		return nil, nil, rpcerrors.Config(fmt.Errorf("resolve registry bind address: %w", err))
	}

	transport, err := raft.NewTCPTransport(r.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, rpcerrors.Config(fmt.Errorf("create registry transport: %w", err))
	}

	snapshotStore, err := raft.NewFileSnapshotStore(r.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, rpcerrors.Config(fmt.Errorf("create registry snapshot store: %w", err))
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(r.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, rpcerrors.Config(fmt.Errorf("create registry log store: %w", err))
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(r.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, rpcerrors.Config(fmt.Errorf("create registry stable store: %w", err))
	}

	instance, err := raft.NewRaft(raftCfg, r.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, rpcerrors.Config(fmt.Errorf("start registry raft: %w", err))
	}
	r.raft = instance
	return raftCfg, transport, nil
}

// Bootstrap forms a fresh single-node Raft cluster headed by this node
// (Agent-0's own registry, §4.3).
func (r *Registry) Bootstrap() error {
	raftCfg, transport, err := r.start()
	if err != nil {
		return err
	}

	future := r.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil {
		return rpcerrors.Config(fmt.Errorf("bootstrap registry cluster: %w", err))
	}

	r.logger.Info().Str("node_id", r.nodeID).Msg("registry bootstrapped")
	return nil
}

// Start brings up this node's Raft instance without forming a cluster,
// for a sub-agent that will be added to the leader's cluster via
// AddNonvoter rather than bootstrapping its own (§4.3).
func (r *Registry) Start() error {
	_, _, err := r.start()
	return err
}

// AddNonvoter adds a sub-agent's registry as a non-voting follower of
// this (leader) cluster: it replicates every write but never
// participates in an election or commit quorum, so a sub-agent joining
// or leaving never risks the leader's availability (§4.3,
// SPEC_FULL.md "sub-agents join as non-voting followers").
func (r *Registry) AddNonvoter(nodeID, addr string) error {
	if r.raft.State() != raft.Leader {
		return rpcerrors.Transport("registry", fmt.Errorf("not the leader"))
	}
	future := r.raft.AddNonvoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return rpcerrors.Transport("registry", fmt.Errorf("add nonvoter %s: %w", nodeID, err))
	}
	return nil
}

// Put replicates a key/value write through the Raft log. Only the
// leader can succeed; followers return a TransportError directing the
// caller to retry against the leader.
func (r *Registry) Put(key string, value []byte) error {
	if r.raft.State() != raft.Leader {
		return rpcerrors.Transport("registry", fmt.Errorf("not the leader"))
	}

	data, err := json.Marshal(putPayload{Key: key, Value: value})
	if err != nil {
		return rpcerrors.Config(fmt.Errorf("marshal put payload: %w", err))
	}
	cmd, err := json.Marshal(Command{Op: "put", Data: data})
	if err != nil {
		return rpcerrors.Config(fmt.Errorf("marshal command: %w", err))
	}

	timer := metrics.NewTimer()
	future := r.raft.Apply(cmd, 5*time.Second)
	timer.ObserveDuration(metrics.RegistryApplyDuration)
	if err := future.Error(); err != nil {
		return rpcerrors.Transport("registry", fmt.Errorf("apply put: %w", err))
	}
	return nil
}

// Delete removes key via the Raft log.
func (r *Registry) Delete(key string) error {
	if r.raft.State() != raft.Leader {
		return rpcerrors.Transport("registry", fmt.Errorf("not the leader"))
	}
	data, err := json.Marshal(deletePayload{Key: key})
	if err != nil {
		return rpcerrors.Config(fmt.Errorf("marshal delete payload: %w", err))
	}
	cmd, err := json.Marshal(Command{Op: "delete", Data: data})
	if err != nil {
		return rpcerrors.Config(fmt.Errorf("marshal command: %w", err))
	}
	future := r.raft.Apply(cmd, 5*time.Second)
	if err := future.Error(); err != nil {
		return rpcerrors.Transport("registry", fmt.Errorf("apply delete: %w", err))
	}
	return nil
}

// Get reads key from the local replica (read path never goes through
// Raft — any replica can serve a read of already-applied state).
func (r *Registry) Get(key string) ([]byte, bool) {
	return r.fsm.get(key)
}

// List returns all keys sharing prefix.
func (r *Registry) List(prefix string) map[string][]byte {
	return r.fsm.listPrefix(prefix)
}

// IsLeader reports whether this node currently holds Raft leadership.
func (r *Registry) IsLeader() bool {
	return r.raft.State() == raft.Leader
}

// Stats reports leader/peer/log-index gauges for metrics.Collector's
// Snapshot.RegistryStatus.
func (r *Registry) Stats() (isLeader bool, peers int, lastIndex, appliedIndex uint64) {
	stats := r.raft.Stats()
	isLeader = r.IsLeader()
	lastIndex = r.raft.LastIndex()
	appliedIndex = r.raft.AppliedIndex()
	if n, ok := stats["num_peers"]; ok {
		fmt.Sscanf(n, "%d", &peers)
		peers++ // num_peers excludes self
	} else {
		peers = 1
	}
	return isLeader, peers, lastIndex, appliedIndex
}

// Shutdown tears down the Raft instance.
func (r *Registry) Shutdown() error {
	if r.raft == nil {
		return nil
	}
	return r.raft.Shutdown().Error()
}
