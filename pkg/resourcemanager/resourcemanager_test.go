package resourcemanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostfileDiscover(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostfile")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nnode-a 8:2\nnode-b 8\n\n"), 0o644))

	h := NewHostfile(path)
	nodes, err := h.Discover()
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "node-a", nodes[0].Name)
	assert.Equal(t, 8, nodes[0].Cores)
	assert.Equal(t, 2, nodes[0].Gpus)
	assert.Equal(t, "node-b", nodes[1].Name)
	assert.Equal(t, 0, nodes[1].Gpus)
}

func TestHostfileRejectsZeroCores(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostfile")
	require.NoError(t, os.WriteFile(path, []byte("node-a 0\n"), 0o644))

	h := NewHostfile(path)
	_, err := h.Discover()
	assert.Error(t, err)
}

func TestHostfileSlotsForSubAgentDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostfile")
	require.NoError(t, os.WriteFile(path, []byte("node-a 8\nnode-b 8\n"), 0o644))

	h := NewHostfile(path)
	_, err := h.Discover()
	require.NoError(t, err)

	n1, err := h.SlotsForSubAgent("agent.0000")
	require.NoError(t, err)
	n2, err := h.SlotsForSubAgent("agent.0000")
	require.NoError(t, err)
	assert.Equal(t, n1, n2)
}

func TestEnvVarDiscover(t *testing.T) {
	t.Setenv("RP_NODELIST", "node-a, node-b")
	t.Setenv("RP_CORES_PER_NODE", "16")
	t.Setenv("RP_GPUS_PER_NODE", "4")

	e := NewEnvVar("RP_NODELIST", "RP_CORES_PER_NODE", "RP_GPUS_PER_NODE")
	nodes, err := e.Discover()
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, 16, nodes[0].Cores)
	assert.Equal(t, 4, nodes[0].Gpus)
}

func TestEnvVarDiscoverMissingVariable(t *testing.T) {
	t.Setenv("RP_NODELIST_MISSING", "")
	e := NewEnvVar("RP_NODELIST_MISSING", "RP_CORES_PER_NODE", "")
	_, err := e.Discover()
	assert.Error(t, err)
}

func TestSingleNodeDiscoverDefaultsCores(t *testing.T) {
	s := NewSingleNode("localhost", 0, 0)
	nodes, err := s.Discover()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Greater(t, nodes[0].Cores, 0)
}

func TestSingleNodeSlotsForSubAgentSharesNode(t *testing.T) {
	s := NewSingleNode("localhost", 4, 0)
	_, err := s.Discover()
	require.NoError(t, err)

	node, err := s.SlotsForSubAgent("agent.0000")
	require.NoError(t, err)
	assert.Equal(t, "localhost", node.Name)
}
