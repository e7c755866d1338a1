package scheduler

import (
	"testing"

	"github.com/rpilot/pilot/pkg/statemachine"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoNodes() []types.Node {
	return []types.Node{
		{UID: "node.0000", Name: "n0", Cores: 4, Gpus: 1},
		{UID: "node.0001", Name: "n1", Cores: 4, Gpus: 1},
	}
}

// taskWith builds a task already advanced to AGENT_SCHEDULING_PENDING,
// the state the scheduler expects to receive tasks in.
func taskWith(ranks, coresPerRank, gpusPerRank int) *types.Task {
	task := &types.Task{
		UID: "task.0000",
		Description: types.TaskDescription{
			Resources: types.ResourceRequest{Ranks: ranks, CoresPerRank: coresPerRank, GpusPerRank: gpusPerRank},
		},
	}
	if err := statemachine.Init(task); err != nil {
		panic(err)
	}
	for _, s := range []types.TaskState{
		types.AgentStagingInputPending, types.AgentStagingInput, types.AgentSchedulingPending,
	} {
		if err := statemachine.Advance(task, s); err != nil {
			panic(err)
		}
	}
	return task
}

func TestSubmitPlacesSingleRankOnLowestIndexNode(t *testing.T) {
	s := New(twoNodes(), nil)
	task := taskWith(1, 2, 0)

	require.NoError(t, s.Submit(task))
	require.NotNil(t, task.Slots)
	assert.Len(t, task.Slots.Ranks, 1)
	assert.Equal(t, 0, task.Slots.Ranks[0].NodeIndex)
	assert.Equal(t, []int{0, 1}, task.Slots.Ranks[0].CoreMap)
	assert.Equal(t, types.AgentExecutingPending, task.CurrentState())
}

func TestSubmitPicksLowestFreeCoreWindow(t *testing.T) {
	s := New(twoNodes(), nil)
	first := taskWith(1, 2, 0)
	require.NoError(t, s.Submit(first))

	second := taskWith(1, 2, 0)
	require.NoError(t, s.Submit(second))

	assert.Equal(t, []int{2, 3}, second.Slots.Ranks[0].CoreMap)
	assert.Equal(t, 0, second.Slots.Ranks[0].NodeIndex)
}

func TestSubmitSpreadsRanksCompactly(t *testing.T) {
	s := New(twoNodes(), nil)
	task := taskWith(2, 4, 0) // each rank needs the whole node

	require.NoError(t, s.Submit(task))
	require.Len(t, task.Slots.Ranks, 2)

	nodes := map[int]bool{}
	for _, r := range task.Slots.Ranks {
		nodes[r.NodeIndex] = true
	}
	assert.Len(t, nodes, 2, "each rank needs a full node so both nodes must be used")
}

func TestSubmitQueuesWhenNoFit(t *testing.T) {
	s := New(twoNodes(), nil)
	require.NoError(t, s.Submit(taskWith(1, 4, 0))) // consumes all of node 0
	require.NoError(t, s.Submit(taskWith(1, 4, 0))) // consumes all of node 1

	blocked := taskWith(1, 2, 0)
	require.NoError(t, s.Submit(blocked))
	assert.Nil(t, blocked.Slots)
	assert.Len(t, s.waitlist, 1)
}

func TestSubmitRejectsRequestExceedingInventory(t *testing.T) {
	s := New(twoNodes(), nil)
	task := taskWith(1, 8, 0) // no node has 8 cores

	err := s.Submit(task)
	require.Error(t, err)
	assert.Nil(t, task.Slots)
}

func TestSubmitRejectsRequestExceedingTotalInventoryEvenIfEachRankFitsANode(t *testing.T) {
	s := New(twoNodes(), nil)
	task := taskWith(3, 4, 0) // each rank needs a full node, but only 2 nodes exist

	err := s.Submit(task)
	require.Error(t, err)
	assert.Nil(t, task.Slots)
	assert.Empty(t, s.waitlist, "an unsatisfiable request must fail fast, never wait")
	assert.Equal(t, types.Failed, task.TargetState)
}

func TestReleaseDrainsWaitlist(t *testing.T) {
	s := New(twoNodes(), nil)
	holder := taskWith(1, 4, 0)
	require.NoError(t, s.Submit(holder))
	require.NoError(t, s.Submit(taskWith(1, 4, 0))) // consumes all of node 1

	waiter := taskWith(1, 2, 0)
	require.NoError(t, s.Submit(waiter))
	require.Len(t, s.waitlist, 1)

	s.Release(holder.Slots)

	assert.Len(t, s.waitlist, 0)
	assert.NotNil(t, waiter.Slots)
}

func TestCancelWaitingRemovesFromWaitlist(t *testing.T) {
	s := New(twoNodes(), nil)
	require.NoError(t, s.Submit(taskWith(1, 4, 0)))
	require.NoError(t, s.Submit(taskWith(1, 4, 0)))

	waiter := taskWith(1, 2, 0)
	require.NoError(t, s.Submit(waiter))
	require.Len(t, s.waitlist, 1)

	assert.True(t, s.CancelWaiting(waiter.UID))
	assert.Len(t, s.waitlist, 0)
	assert.False(t, s.CancelWaiting(waiter.UID))
}

func TestSubmitRespectsGpuRequest(t *testing.T) {
	s := New(twoNodes(), nil)
	task := taskWith(1, 1, 1)
	require.NoError(t, s.Submit(task))
	require.NotNil(t, task.Slots)
	assert.Equal(t, []int{0}, task.Slots.Ranks[0].GpuMap)

	second := taskWith(1, 1, 1)
	require.NoError(t, s.Submit(second))
	require.NotNil(t, second.Slots, "node 1 still has its gpu free")
	assert.Equal(t, 1, second.Slots.Ranks[0].NodeIndex)

	third := taskWith(1, 1, 1)
	require.NoError(t, s.Submit(third))
	assert.Nil(t, third.Slots, "only one gpu per node available, third request should wait")
}
