package statemachine

import (
	"fmt"
	"time"

	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/types"
)

// order is the full non-terminal state sequence of §4.2, in rank order.
var order = []types.TaskState{
	types.TmgrStagingInputPending,
	types.AgentStagingInputPending,
	types.AgentStagingInput,
	types.AgentSchedulingPending,
	types.AgentScheduling,
	types.AgentExecutingPending,
	types.AgentExecuting,
	types.AgentStagingOutputPend,
	types.AgentStagingOutput,
	types.TmgrStagingOutputPending,
}

// terminalPending is the only rank a task may transition to DONE,
// FAILED, or CANCELED from (§4.2, §8).
var terminalPending = types.TmgrStagingOutputPending

// failCancelTarget is the rank a failed or canceled task short-circuits
// to from any earlier state: AGENT_STAGING_OUTPUT_PENDING, the state
// the Staging-Output component itself watches for. Routing here — not
// straight to terminalPending — means output staging always actually
// runs before a failed or canceled task is finalized, so the client
// still gets a final report even on failure (§4.2).
var failCancelTarget = types.AgentStagingOutputPend

// Init appends the first state to a freshly materialized task. Only
// valid on a task with no state history yet.
func Init(task *types.Task) error {
	if len(task.States) != 0 {
		return rpcerrors.Config(fmt.Errorf("task %s already has state history, cannot Init", task.UID))
	}
	task.States = append(task.States, types.StateEntry{State: types.TmgrStagingInputPending, Timestamp: time.Now()})
	return nil
}

// Advance moves task to its immediate successor in the §4.2 order, or
// to the output-staging short-circuit state from any earlier rank.
// Clears TargetState on success when `to` is the state TargetState
// names; a FAILED or CANCELED target set by Fail or Cancel is kept
// until Finalize reaches it. It is the single enforcement point
// for the monotonic-rank, append-only invariant (§3, §8).
func Advance(task *types.Task, to types.TaskState) error {
	if task.IsTerminal() {
		return rpcerrors.Config(fmt.Errorf("task %s is already terminal, no further transitions permitted", task.UID))
	}

	current := task.CurrentState()
	if current == "" {
		return rpcerrors.Config(fmt.Errorf("task %s has no state history, call Init first", task.UID))
	}

	if to.IsTerminal() {
		if current != terminalPending {
			return rpcerrors.Config(fmt.Errorf(
				"task %s cannot reach terminal state %s from %s, must pass through %s", task.UID, to, current, terminalPending))
		}
	} else {
		isDirectSuccessor := to.Rank() == current.Rank()+1
		isShortCircuit := to == failCancelTarget && current.Rank() < failCancelTarget.Rank()
		if !isDirectSuccessor && !isShortCircuit {
			return rpcerrors.Config(fmt.Errorf(
				"task %s cannot advance from %s to %s: not the next state in order", task.UID, current, to))
		}
	}

	task.States = append(task.States, types.StateEntry{State: to, Timestamp: time.Now()})
	if task.TargetState == to {
		task.TargetState = ""
	}
	return nil
}

// Fail short-circuits task to AGENT_STAGING_OUTPUT_PENDING with
// target_state=FAILED and the exception recorded, so the Staging-Output
// component still picks it up, runs output staging, and finalizes it
// (§4.2). A no-op state append if the task has already reached or
// passed that rank (output staging itself may be the component
// detecting the failure).
func Fail(task *types.Task, reason string) error {
	if task.IsTerminal() {
		return rpcerrors.Config(fmt.Errorf("task %s is already terminal, cannot fail", task.UID))
	}
	task.Exception = reason
	task.TargetState = types.Failed
	if task.CurrentState().Rank() >= failCancelTarget.Rank() {
		return nil
	}
	return Advance(task, failCancelTarget)
}

// Cancel short-circuits task to AGENT_STAGING_OUTPUT_PENDING with
// target_state=CANCELED (§4.2), for the same reason Fail does. Returns
// an error if the task has already terminated.
func Cancel(task *types.Task) error {
	if task.IsTerminal() {
		return rpcerrors.Config(fmt.Errorf("task %s is already terminal, cannot cancel", task.UID))
	}
	task.TargetState = types.Canceled
	if task.CurrentState().Rank() >= failCancelTarget.Rank() {
		return nil
	}
	return Advance(task, failCancelTarget)
}

// Finalize appends the terminal state recorded in task.TargetState
// (set by Fail, Cancel, or left as DONE by the normal success path),
// called by output staging once it has attempted to stage results
// regardless of outcome.
func Finalize(task *types.Task) error {
	target := task.TargetState
	if target == "" {
		target = types.Done
	}
	if !target.IsTerminal() {
		return rpcerrors.Config(fmt.Errorf("task %s has non-terminal target_state %s, cannot finalize", task.UID, target))
	}
	return Advance(task, target)
}
