package agent0

import (
	"context"

	"github.com/rpilot/pilot/pkg/raptor"
	"github.com/rpilot/pilot/pkg/statemachine"
	"github.com/rpilot/pilot/pkg/types"
)

// Route implements scheduler.RaptorRouter: a function task carrying a
// raptor_id whose master is already running is advanced straight to
// AGENT_EXECUTING and handed to that master's request queue instead
// of the placement waitlist (spec.md §4.9). Any task this agent has
// no running master for falls through to the ordinary scheduler —
// most commonly because the RAPTOR_MASTER task itself hasn't reached
// AGENT_EXECUTING yet.
func (a *Agent) Route(task *types.Task) (bool, error) {
	if !task.Description.Mode.IsRaptorFunction() || task.Description.RaptorID == "" {
		return false, nil
	}

	a.mu.Lock()
	master, ok := a.raptorMasters[task.Description.RaptorID]
	a.mu.Unlock()
	if !ok {
		return false, nil
	}

	if err := statemachine.Advance(task, types.AgentScheduling); err != nil {
		return true, err
	}
	if err := statemachine.Advance(task, types.AgentExecutingPending); err != nil {
		return true, err
	}
	if err := statemachine.Advance(task, types.AgentExecuting); err != nil {
		return true, err
	}
	a.publishState(task)

	// Track the live task object by UID so handleRaptorResult can advance
	// the very instance Route progressed, rather than a mailbox copy that
	// was only ever persisted at claim time (spec.md §4.9).
	a.mu.Lock()
	a.raptorTasks[task.UID] = task
	a.mu.Unlock()

	if err := master.Submit(task); err != nil {
		a.mu.Lock()
		delete(a.raptorTasks, task.UID)
		a.mu.Unlock()
		if ferr := statemachine.Fail(task, err.Error()); ferr == nil {
			a.publishState(task)
		}
		return true, err
	}
	return true, nil
}

// spawnRaptorMaster brings up the in-process Master for a RAPTOR_MASTER
// task once it reaches AGENT_EXECUTING, registering it under its own
// task uid so Route can find it by raptor_id (spec.md §4.9). The task
// itself keeps running under the normal executor — spawnRaptorMaster
// only stands up the request/response queue owner in this process.
func (a *Agent) spawnRaptorMaster(task *types.Task) {
	a.mu.Lock()
	if _, exists := a.raptorMasters[task.UID]; exists {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	master := raptor.NewMaster(a.queue, task.UID, a.cfg.RaptorWorkers, a.handleRaptorResult)
	if err := master.Start(context.Background()); err != nil {
		a.logger.Error().Err(err).Str("master_id", task.UID).Msg("failed to start raptor master")
		return
	}

	a.mu.Lock()
	a.raptorMasters[task.UID] = master
	a.mu.Unlock()
	a.logger.Info().Str("master_id", task.UID).Int("workers", a.cfg.RaptorWorkers).Msg("raptor master started")
}

// stopRaptorMaster tears down a master once its own task has
// terminated (spec.md §4.9).
func (a *Agent) stopRaptorMaster(uid string) {
	a.mu.Lock()
	master, ok := a.raptorMasters[uid]
	if ok {
		delete(a.raptorMasters, uid)
	}
	for funcUID, t := range a.raptorTasks {
		if t.Description.RaptorID == uid {
			delete(a.raptorTasks, funcUID)
		}
	}
	a.mu.Unlock()
	if ok {
		_ = master.Stop()
	}
}

// handleRaptorResult advances a completed raptor task to
// AGENT_STAGING_OUTPUT_PENDING (or FAILED on a nonzero exit) once its
// worker's result reaches the master's response queue (spec.md §4.9,
// §9 open question iii). It operates on the in-flight task Route
// registered in raptorTasks, not a mailbox refetch — the mailbox only
// holds the claim-time snapshot, so Advance against that copy always
// rejects the transition as out of order.
func (a *Agent) handleRaptorResult(result *types.RaptorResult) {
	a.mu.Lock()
	task, ok := a.raptorTasks[result.TaskUID]
	if ok {
		delete(a.raptorTasks, result.TaskUID)
	}
	a.mu.Unlock()
	if !ok {
		a.logger.Error().Str("task_id", result.TaskUID).Msg("raptor result for unknown task")
		return
	}

	task.ExitCode = &result.ExitCode
	if result.ExitCode != 0 {
		if err := statemachine.Fail(task, result.Exception); err != nil {
			a.logger.Error().Err(err).Str("task_id", task.UID).Msg("cannot fail raptor task")
			return
		}
	} else if err := statemachine.Advance(task, types.AgentStagingOutputPend); err != nil {
		a.logger.Error().Err(err).Str("task_id", task.UID).Msg("cannot advance raptor task to output staging")
		return
	}
	a.publishState(task)
}
