package executor

import (
	"context"
	"testing"
	"time"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/launchmethod"
	"github.com/rpilot/pilot/pkg/statemachine"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placedTask(executable string, args []string) *types.Task {
	task := &types.Task{
		UID: "task.0000",
		Description: types.TaskDescription{
			Executable: executable,
			Arguments:  args,
			Resources:  types.ResourceRequest{Ranks: 1, CoresPerRank: 1},
		},
		Slots: &types.SlotAssignment{Ranks: []types.RankPlacement{{NodeIndex: 0, NodeUID: "node.0000", CoreMap: []int{0}}}},
	}
	if err := statemachine.Init(task); err != nil {
		panic(err)
	}
	for _, s := range []types.TaskState{
		types.AgentStagingInputPending, types.AgentStagingInput,
		types.AgentSchedulingPending, types.AgentScheduling, types.AgentExecutingPending,
	} {
		if err := statemachine.Advance(task, s); err != nil {
			panic(err)
		}
	}
	return task
}

func waitForState(t *testing.T, ch <-chan types.Message, want types.TaskState, timeout time.Duration) *types.Task {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-ch:
			if msg.State != nil && msg.State.Task != nil && msg.State.Task.CurrentState() == want {
				return msg.State.Task
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
			return nil
		}
	}
}

func TestRunProcessSuccessAdvancesToStagingOutputPending(t *testing.T) {
	bus := bridge.NewLocal()
	stateCh, unsub := bus.Subscribe(string(types.TopicState))
	defer unsub()

	e := New(bus, launchmethod.Fork{}, t.TempDir())
	task := placedTask("/bin/echo", []string{"hello"})

	go e.run(context.Background(), task)

	result := waitForState(t, stateCh, types.AgentStagingOutputPend, 5*time.Second)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
	assert.Contains(t, result.StdoutTail, "hello")
}

func TestRunProcessNonzeroExitFails(t *testing.T) {
	bus := bridge.NewLocal()
	stateCh, unsub := bus.Subscribe(string(types.TopicState))
	defer unsub()

	e := New(bus, launchmethod.Fork{}, t.TempDir())
	task := placedTask("/bin/sh", []string{"-c", "exit 7"})

	go e.run(context.Background(), task)

	result := waitForState(t, stateCh, types.AgentStagingOutputPend, 5*time.Second)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 7, *result.ExitCode)
	assert.Equal(t, types.Failed, result.TargetState)
}

func TestRunProcessSpawnFailureRoutesToOutputStaging(t *testing.T) {
	bus := bridge.NewLocal()
	stateCh, unsub := bus.Subscribe(string(types.TopicState))
	defer unsub()

	e := New(bus, launchmethod.Fork{}, t.TempDir())
	task := placedTask("/no/such/binary", nil)

	go e.run(context.Background(), task)

	result := waitForState(t, stateCh, types.AgentStagingOutputPend, 5*time.Second)
	assert.Equal(t, types.Failed, result.TargetState)
}

func TestCancelKillsProcessGroupAndMarksCanceled(t *testing.T) {
	bus := bridge.NewLocal()
	stateCh, unsub := bus.Subscribe(string(types.TopicState))
	defer unsub()

	e := New(bus, launchmethod.Fork{}, t.TempDir())
	task := placedTask("/bin/sleep", []string{"30"})

	go e.run(context.Background(), task)
	time.Sleep(200 * time.Millisecond) // let the process register before canceling
	e.Cancel(task.UID)

	result := waitForState(t, stateCh, types.AgentStagingOutputPend, 5*time.Second)
	assert.Equal(t, types.Canceled, result.TargetState)
}

func TestReleaseSlotsPublishesSlotReleaseControl(t *testing.T) {
	bus := bridge.NewLocal()
	ctrlCh, unsub := bus.Subscribe(string(types.TopicControl))
	defer unsub()

	e := New(bus, launchmethod.Fork{}, t.TempDir())
	task := placedTask("/bin/echo", []string{"hi"})

	go e.run(context.Background(), task)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-ctrlCh:
			if msg.Control != nil && msg.Control.Verb == types.CmdSlotRelease {
				assert.Equal(t, task.UID, msg.Control.UID)
				require.NotNil(t, msg.Control.Slots)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for slot_release control message")
		}
	}
}
