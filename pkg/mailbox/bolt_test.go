package mailbox

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rpilot/pilot/pkg/statemachine"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestMailbox(t *testing.T) *Bolt {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailbox.db")
	b, err := OpenBolt(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func pendingTask(uid, pilotUID string) *types.Task {
	task := &types.Task{
		UID:     uid,
		PilotID: pilotUID,
		Control: types.ControlAgentPending,
	}
	if err := statemachine.Init(task); err != nil {
		panic(err)
	}
	return task
}

func TestClaimPendingTasksFlipsControlAndExcludesOthers(t *testing.T) {
	b := openTestMailbox(t)

	require.NoError(t, b.PutTask(pendingTask("task.0000", "pilot.0000")))
	require.NoError(t, b.PutTask(pendingTask("task.0001", "pilot.0000")))
	already := pendingTask("task.0002", "pilot.0000")
	already.Control = types.ControlAgent
	require.NoError(t, b.PutTask(already))
	other := pendingTask("task.0003", "pilot.0001")
	require.NoError(t, b.PutTask(other))

	claimed, err := b.ClaimPendingTasks("pilot.0000", 0)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
	for _, task := range claimed {
		assert.Equal(t, types.ControlAgent, task.Control)
	}

	stored, err := b.GetTask("task.0000")
	require.NoError(t, err)
	assert.Equal(t, types.ControlAgent, stored.Control)

	// a second claim finds nothing left pending
	claimed, err = b.ClaimPendingTasks("pilot.0000", 0)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimPendingTasksRespectsLimit(t *testing.T) {
	b := openTestMailbox(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.PutTask(pendingTask(fmt.Sprintf("task.%04d", i), "pilot.0000")))
	}
	claimed, err := b.ClaimPendingTasks("pilot.0000", 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestDrainCommandsIsFindAndSetEmpty(t *testing.T) {
	b := openTestMailbox(t)
	require.NoError(t, b.PutPilot(&types.Pilot{UID: "pilot.0000", State: types.PilotActive}))

	require.NoError(t, b.AppendCommand("pilot.0000", types.ControlMessage{Verb: types.CmdHeartbeat}))
	require.NoError(t, b.AppendCommand("pilot.0000", types.ControlMessage{Verb: types.CmdCancelTasks, TaskUIDs: []string{"task.0000"}}))

	cmds, err := b.DrainCommands("pilot.0000")
	require.NoError(t, err)
	assert.Len(t, cmds, 2)

	cmds, err = b.DrainCommands("pilot.0000")
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestPublishFinalStateIsReadableByClient(t *testing.T) {
	b := openTestMailbox(t)
	task := pendingTask("task.0000", "pilot.0000")
	require.NoError(t, b.PutTask(task))

	for _, s := range []types.TaskState{
		types.AgentStagingInputPending, types.AgentStagingInput, types.AgentSchedulingPending,
		types.AgentScheduling, types.AgentExecutingPending, types.AgentExecuting,
		types.AgentStagingOutputPend, types.AgentStagingOutput, types.TmgrStagingOutputPending,
		types.Done,
	} {
		require.NoError(t, statemachine.Advance(task, s))
	}

	require.NoError(t, b.PublishFinalState(task))

	stored, err := b.GetTask("task.0000")
	require.NoError(t, err)
	assert.Equal(t, types.Done, stored.CurrentState())
}
