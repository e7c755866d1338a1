package staging

import (
	"context"
	"testing"
	"time"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/statemachine"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopCtxFor(task *types.Task) SandboxContext {
	return SandboxContext{}
}

func waitForTerminal(t *testing.T, ch <-chan types.Message, uid string, timeout time.Duration) *types.Task {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-ch:
			if msg.State != nil && msg.State.Task != nil && msg.State.Task.UID == uid && msg.State.Task.IsTerminal() {
				return msg.State.Task
			}
		case <-deadline:
			t.Fatalf("task %s never reached a terminal state", uid)
			return nil
		}
	}
}

// TestOutputFinalizesAFailedTask is a regression test for the
// short-circuit routing a maintainer review flagged: Fail/Cancel must
// land a task somewhere the Output component actually watches, or it
// never reaches a terminal state and is never published.
func TestOutputFinalizesAFailedTask(t *testing.T) {
	bus := bridge.NewLocal()
	stateCh, unsub := bus.Subscribe(string(types.TopicState))
	defer unsub()

	out := NewOutput(bus, noopCtxFor)
	require.NoError(t, out.Start(context.Background()))
	defer out.Stop()

	task := &types.Task{UID: "task.fail.0000"}
	require.NoError(t, statemachine.Init(task))
	require.NoError(t, statemachine.Advance(task, types.AgentStagingInputPending))
	require.NoError(t, statemachine.Fail(task, "exit code 1"))
	require.Equal(t, types.AgentStagingOutputPend, task.CurrentState())

	require.NoError(t, bus.Publish(string(types.TopicState), types.Message{
		Topic: types.TopicState,
		State: &types.StateMessage{Task: task},
	}))

	final := waitForTerminal(t, stateCh, task.UID, 2*time.Second)
	assert.Equal(t, types.Failed, final.CurrentState())
}

// TestOutputFinalizesACanceledTask mirrors the Fail case for Cancel.
func TestOutputFinalizesACanceledTask(t *testing.T) {
	bus := bridge.NewLocal()
	stateCh, unsub := bus.Subscribe(string(types.TopicState))
	defer unsub()

	out := NewOutput(bus, noopCtxFor)
	require.NoError(t, out.Start(context.Background()))
	defer out.Stop()

	task := &types.Task{UID: "task.cancel.0000"}
	require.NoError(t, statemachine.Init(task))
	require.NoError(t, statemachine.Advance(task, types.AgentStagingInputPending))
	require.NoError(t, statemachine.Cancel(task))
	require.Equal(t, types.AgentStagingOutputPend, task.CurrentState())

	require.NoError(t, bus.Publish(string(types.TopicState), types.Message{
		Topic: types.TopicState,
		State: &types.StateMessage{Task: task},
	}))

	final := waitForTerminal(t, stateCh, task.UID, 2*time.Second)
	assert.Equal(t, types.Canceled, final.CurrentState())
}
