package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskCurrentStateIsMaximal(t *testing.T) {
	task := &Task{UID: "task.0001"}
	require.Equal(t, TaskState(""), task.CurrentState())

	task.States = append(task.States,
		StateEntry{State: TmgrStagingInputPending, Timestamp: time.Now()},
		StateEntry{State: AgentStagingInputPending, Timestamp: time.Now()},
		StateEntry{State: AgentStagingInput, Timestamp: time.Now()},
	)

	assert.Equal(t, AgentStagingInput, task.CurrentState())
	assert.False(t, task.IsTerminal())
}

func TestTaskStateRankIsMonotoneAlongPipeline(t *testing.T) {
	order := []TaskState{
		TmgrStagingInputPending,
		AgentStagingInputPending,
		AgentStagingInput,
		AgentSchedulingPending,
		AgentScheduling,
		AgentExecutingPending,
		AgentExecuting,
		AgentStagingOutputPend,
		AgentStagingOutput,
		TmgrStagingOutputPending,
	}
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1].Rank(), order[i].Rank(), "%s should rank below %s", order[i-1], order[i])
	}
}

func TestTerminalStatesShareMaxRank(t *testing.T) {
	assert.True(t, Done.IsTerminal())
	assert.True(t, Failed.IsTerminal())
	assert.True(t, Canceled.IsTerminal())
	assert.Equal(t, Done.Rank(), Failed.Rank())
	assert.Equal(t, Done.Rank(), Canceled.Rank())
}

func TestTaskModeIsRaptorFunction(t *testing.T) {
	assert.True(t, ModeFunction.IsRaptorFunction())
	assert.True(t, ModeShell.IsRaptorFunction())
	assert.False(t, ModeExecutable.IsRaptorFunction())
	assert.False(t, ModeRaptorMaster.IsRaptorFunction())
}

func TestTerminationCauseTerminalState(t *testing.T) {
	assert.Equal(t, PilotDone, CauseTimeout.TerminalState())
	assert.Equal(t, PilotCanceled, CauseCancel.TerminalState())
	assert.Equal(t, PilotFailed, CauseError.TerminalState())
}
