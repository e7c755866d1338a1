package statemachine

import (
	"testing"

	"github.com/rpilot/pilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSetsFirstPendingState(t *testing.T) {
	task := &types.Task{UID: "task.0000"}
	require.NoError(t, Init(task))
	assert.Equal(t, types.TmgrStagingInputPending, task.CurrentState())
}

func TestInitRejectsNonEmptyHistory(t *testing.T) {
	task := &types.Task{UID: "task.0000"}
	require.NoError(t, Init(task))
	assert.Error(t, Init(task))
}

func TestAdvanceFollowsOrder(t *testing.T) {
	task := &types.Task{UID: "task.0000"}
	require.NoError(t, Init(task))

	require.NoError(t, Advance(task, types.AgentStagingInputPending))
	require.NoError(t, Advance(task, types.AgentStagingInput))
	require.NoError(t, Advance(task, types.AgentSchedulingPending))
	assert.Equal(t, types.AgentSchedulingPending, task.CurrentState())
	assert.Len(t, task.States, 4)
}

func TestAdvanceRejectsSkippingAhead(t *testing.T) {
	task := &types.Task{UID: "task.0000"}
	require.NoError(t, Init(task))
	err := Advance(task, types.AgentSchedulingPending)
	assert.Error(t, err)
}

func TestAdvanceClearsTargetState(t *testing.T) {
	task := &types.Task{UID: "task.0000"}
	require.NoError(t, Init(task))
	task.TargetState = types.AgentStagingInputPending
	require.NoError(t, Advance(task, types.AgentStagingInputPending))
	assert.Empty(t, task.TargetState)
}

func TestAdvanceRejectsTransitionsAfterTerminal(t *testing.T) {
	task := &types.Task{UID: "task.0000"}
	require.NoError(t, Init(task))
	for _, s := range order[1:] {
		require.NoError(t, Advance(task, s))
	}
	require.NoError(t, Finalize(task))
	assert.True(t, task.IsTerminal())
	assert.Error(t, Advance(task, types.AgentSchedulingPending))
}

func TestFailShortCircuitsToOutputStaging(t *testing.T) {
	task := &types.Task{UID: "task.0000"}
	require.NoError(t, Init(task))
	require.NoError(t, Advance(task, types.AgentStagingInputPending))

	require.NoError(t, Fail(task, "boom"))
	assert.Equal(t, types.AgentStagingOutputPend, task.CurrentState())
	assert.Equal(t, types.Failed, task.TargetState)
	assert.Equal(t, "boom", task.Exception)
}

func TestFailIsNoopStateAppendWhenAlreadyAtOutputStaging(t *testing.T) {
	task := &types.Task{UID: "task.0000"}
	require.NoError(t, Init(task))
	for _, s := range order[1:] {
		require.NoError(t, Advance(task, s))
	}
	before := len(task.States)
	require.NoError(t, Fail(task, "late failure"))
	assert.Len(t, task.States, before)
	assert.Equal(t, types.Failed, task.TargetState)
}

func TestCancelShortCircuitsToOutputStaging(t *testing.T) {
	task := &types.Task{UID: "task.0000"}
	require.NoError(t, Init(task))
	require.NoError(t, Advance(task, types.AgentStagingInputPending))

	require.NoError(t, Cancel(task))
	assert.Equal(t, types.AgentStagingOutputPend, task.CurrentState())
	assert.Equal(t, types.Canceled, task.TargetState)
}

func TestFailThenFinishRunsOutputStagingAndReachesFailed(t *testing.T) {
	task := &types.Task{UID: "task.0000"}
	require.NoError(t, Init(task))
	require.NoError(t, Advance(task, types.AgentStagingInputPending))

	require.NoError(t, Fail(task, "boom"))
	require.Equal(t, types.AgentStagingOutputPend, task.CurrentState())

	// The Output component's own flow resumes from here: stage, advance
	// through the remaining ranks, then finalize using TargetState.
	require.NoError(t, Advance(task, types.AgentStagingOutput))
	require.NoError(t, Advance(task, types.TmgrStagingOutputPending))
	require.NoError(t, Finalize(task))
	assert.Equal(t, types.Failed, task.CurrentState())
	assert.True(t, task.IsTerminal())
}

func TestFinalizeUsesTargetStateOrDefaultsToDone(t *testing.T) {
	task := &types.Task{UID: "task.0000"}
	require.NoError(t, Init(task))
	for _, s := range order[1:] {
		require.NoError(t, Advance(task, s))
	}
	require.NoError(t, Finalize(task))
	assert.Equal(t, types.Done, task.CurrentState())
}

func TestFinalizeRejectsNonTerminalTarget(t *testing.T) {
	task := &types.Task{UID: "task.0000"}
	require.NoError(t, Init(task))
	for _, s := range order[1:] {
		require.NoError(t, Advance(task, s))
	}
	task.TargetState = types.AgentScheduling
	assert.Error(t, Finalize(task))
}
