package agent0

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/config"
	"github.com/rpilot/pilot/pkg/mailbox"
	"github.com/rpilot/pilot/pkg/statemachine"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.AgentConfig {
	t.Helper()
	return &config.AgentConfig{
		PilotID:         "pilot.0000",
		SandboxURL:      t.TempDir(),
		ResourceManager: "local",
		Cores:           2,
		Nodes:           []types.Node{{Name: "local", UID: "node.0000", Cores: 2}},
		Heartbeat:       config.DefaultHeartbeat(),
	}
}

func pendingExecutableTask(uid, pilotUID, executable string, args []string) *types.Task {
	task := &types.Task{
		UID:     uid,
		PilotID: pilotUID,
		Control: types.ControlAgentPending,
		Description: types.TaskDescription{
			Executable: executable,
			Arguments:  args,
			Resources:  types.ResourceRequest{Ranks: 1, CoresPerRank: 1},
			Mode:       types.ModeExecutable,
		},
	}
	if err := statemachine.Init(task); err != nil {
		panic(err)
	}
	return task
}

func waitForTerminal(t *testing.T, mbox mailbox.Mailbox, uid string, timeout time.Duration) *types.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, err := mbox.GetTask(uid)
		if err == nil && task.IsTerminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state in time", uid)
	return nil
}

func TestRunExecutesClaimedTaskThenExitsCleanlyOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	mbox, err := mailbox.OpenBolt(filepath.Join(t.TempDir(), "mailbox.db"))
	require.NoError(t, err)
	defer mbox.Close()

	require.NoError(t, mbox.PutTask(pendingExecutableTask("task.0000", cfg.PilotID, "/bin/echo", []string{"hi"})))

	bus := bridge.NewLocal()
	agent, err := New(cfg, mbox, bus, bus, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan int, 1)
	go func() { resultCh <- agent.Run(ctx) }()

	task := waitForTerminal(t, mbox, "task.0000", 5*time.Second)
	require.Equal(t, types.Done, task.CurrentState())

	cancel()
	select {
	case exitCode := <-resultCh:
		require.Equal(t, ExitOK, exitCode)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not terminate after context cancel")
	}

	pilot, err := mbox.GetPilot(cfg.PilotID)
	require.NoError(t, err)
	require.Equal(t, types.PilotCanceled, pilot.State)
}

func TestHandleCommandCancelPilotBeginsTermination(t *testing.T) {
	cfg := testConfig(t)
	mbox, err := mailbox.OpenBolt(filepath.Join(t.TempDir(), "mailbox.db"))
	require.NoError(t, err)
	defer mbox.Close()

	bus := bridge.NewLocal()
	agent, err := New(cfg, mbox, bus, bus, nil)
	require.NoError(t, err)

	agent.handleCommand(types.ControlMessage{Verb: types.CmdCancelPilot})

	select {
	case <-agent.stopCh:
	default:
		t.Fatal("expected stopCh to be closed after cancel_pilot command")
	}
	require.Equal(t, types.CauseCancel, agent.cause)
}

func TestRunTimesOutWhenRuntimeDeadlineElapses(t *testing.T) {
	cfg := testConfig(t)
	cfg.RuntimeMinutes = 0 // set manually below via a near-past deadline
	mbox, err := mailbox.OpenBolt(filepath.Join(t.TempDir(), "mailbox.db"))
	require.NoError(t, err)
	defer mbox.Close()

	bus := bridge.NewLocal()
	agent, err := New(cfg, mbox, bus, bus, nil)
	require.NoError(t, err)
	agent.deadline = time.Now().Add(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exitCode := agent.Run(ctx)
	require.Equal(t, ExitTimeout, exitCode)
}

func TestRouteDivertsRaptorFunctionTaskToRunningMaster(t *testing.T) {
	cfg := testConfig(t)
	mbox, err := mailbox.OpenBolt(filepath.Join(t.TempDir(), "mailbox.db"))
	require.NoError(t, err)
	defer mbox.Close()

	bus := bridge.NewLocal()
	agent, err := New(cfg, mbox, bus, bus, nil)
	require.NoError(t, err)

	masterTask := &types.Task{
		UID:         "master.0000",
		PilotID:     cfg.PilotID,
		Description: types.TaskDescription{Mode: types.ModeRaptorMaster, Executable: "/bin/true"},
	}
	require.NoError(t, statemachine.Init(masterTask))
	agent.spawnRaptorMaster(masterTask)
	defer agent.stopRaptorMaster(masterTask.UID)

	funcTask := &types.Task{
		UID:         "task.func.0000",
		PilotID:     cfg.PilotID,
		Description: types.TaskDescription{Mode: types.ModeFunction, RaptorID: masterTask.UID},
	}
	require.NoError(t, statemachine.Init(funcTask))
	require.NoError(t, statemachine.Advance(funcTask, types.AgentStagingInputPending))
	require.NoError(t, statemachine.Advance(funcTask, types.AgentStagingInput))
	require.NoError(t, statemachine.Advance(funcTask, types.AgentSchedulingPending))

	handled, err := agent.Route(funcTask)
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, types.AgentExecuting, funcTask.CurrentState())
}

// TestHandleRaptorResultFinalizesTheLiveTaskNotAMailboxCopy is a
// regression test: the mailbox only ever holds the claim-time snapshot
// of a task, since nothing re-persists it mid-pipeline. Advancing that
// stale copy used to be rejected as out-of-order, so a raptor function
// task's result never actually finalized it.
func TestHandleRaptorResultFinalizesTheLiveTaskNotAMailboxCopy(t *testing.T) {
	cfg := testConfig(t)
	mbox, err := mailbox.OpenBolt(filepath.Join(t.TempDir(), "mailbox.db"))
	require.NoError(t, err)
	defer mbox.Close()

	bus := bridge.NewLocal()
	agent, err := New(cfg, mbox, bus, bus, nil)
	require.NoError(t, err)

	// The mailbox only ever sees the task at claim time, well before it
	// is routed to a raptor master.
	claimTimeTask := &types.Task{
		UID:     "task.func.claim",
		PilotID: cfg.PilotID,
		Description: types.TaskDescription{
			Mode: types.ModeFunction, RaptorID: "master.claim",
		},
	}
	require.NoError(t, statemachine.Init(claimTimeTask))
	require.NoError(t, mbox.PutTask(claimTimeTask))

	masterTask := &types.Task{
		UID:         "master.claim",
		PilotID:     cfg.PilotID,
		Description: types.TaskDescription{Mode: types.ModeRaptorMaster, Executable: "/bin/true"},
	}
	require.NoError(t, statemachine.Init(masterTask))
	agent.spawnRaptorMaster(masterTask)
	defer agent.stopRaptorMaster(masterTask.UID)

	liveTask := &types.Task{
		UID:         "task.func.claim",
		PilotID:     cfg.PilotID,
		Description: types.TaskDescription{Mode: types.ModeFunction, RaptorID: masterTask.UID},
	}
	require.NoError(t, statemachine.Init(liveTask))
	require.NoError(t, statemachine.Advance(liveTask, types.AgentStagingInputPending))
	require.NoError(t, statemachine.Advance(liveTask, types.AgentStagingInput))
	require.NoError(t, statemachine.Advance(liveTask, types.AgentSchedulingPending))

	handled, err := agent.Route(liveTask)
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, types.AgentExecuting, liveTask.CurrentState())

	agent.handleRaptorResult(&types.RaptorResult{TaskUID: liveTask.UID, ExitCode: 0})

	require.Equal(t, types.AgentStagingOutputPend, liveTask.CurrentState())

	agent.mu.Lock()
	_, stillTracked := agent.raptorTasks[liveTask.UID]
	agent.mu.Unlock()
	require.False(t, stillTracked, "handleRaptorResult must remove the task once handled")
}

func TestRouteIgnoresTaskWithNoRunningMaster(t *testing.T) {
	cfg := testConfig(t)
	mbox, err := mailbox.OpenBolt(filepath.Join(t.TempDir(), "mailbox.db"))
	require.NoError(t, err)
	defer mbox.Close()

	bus := bridge.NewLocal()
	agent, err := New(cfg, mbox, bus, bus, nil)
	require.NoError(t, err)

	funcTask := &types.Task{
		UID:         "task.func.0001",
		PilotID:     cfg.PilotID,
		Description: types.TaskDescription{Mode: types.ModeFunction, RaptorID: "no-such-master"},
	}
	require.NoError(t, statemachine.Init(funcTask))

	handled, err := agent.Route(funcTask)
	require.NoError(t, err)
	require.False(t, handled)
}
