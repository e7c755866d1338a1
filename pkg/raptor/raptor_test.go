package raptor

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

func functionTask(uid, raptorID string) *types.Task {
	task := &types.Task{
		UID:     uid,
		Control: types.ControlAgent,
		Description: types.TaskDescription{
			Mode:     types.ModeFunction,
			RaptorID: raptorID,
		},
	}
	if err := statemachine.Init(task); err != nil {
		panic(err)
	}
	return task
}

func TestMasterSubmitRejectsNonFunctionTask(t *testing.T) {
	queue := bridge.NewLocal()
	m := NewMaster(queue, "raptor.0000", 2, nil)

	task := &types.Task{UID: "task.0000", Description: types.TaskDescription{Mode: types.ModeExecutable}}
	err := m.Submit(task)
	assert.Error(t, err)
}

func TestMasterWorkerRoundTrip(t *testing.T) {
	queue := bridge.NewLocal()

	var received *types.RaptorResult
	done := make(chan struct{})
	m := NewMaster(queue, "raptor.0000", 1, func(r *types.RaptorResult) {
		received = r
		close(done)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	w := NewWorker(queue, "raptor.0000", "raptor.0000.worker.0000", NoopExec)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	task := functionTask("task.0001", "raptor.0000")
	require.NoError(t, m.Submit(task))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for raptor result")
	}

	require.NotNil(t, received)
	assert.Equal(t, "task.0001", received.TaskUID)
	assert.Equal(t, 0, received.ExitCode)
}

func TestNoopExecRejectsEmptyTaskUID(t *testing.T) {
	_, err := NoopExec(&types.RaptorRequest{})
	assert.Error(t, err)
}
