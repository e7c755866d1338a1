package types

import "time"

// TaskState is one point in the total order defined in spec.md §4.2.
type TaskState string

// The full task state order, leaves (pending states) interleaved with the
// active state each pending state unlocks. CurrentState is always the
// maximal entry of a Task's States history under this order.
const (
	TmgrStagingInputPending  TaskState = "TMGR_STAGING_INPUT_PENDING"
	AgentStagingInputPending TaskState = "AGENT_STAGING_INPUT_PENDING"
	AgentStagingInput        TaskState = "AGENT_STAGING_INPUT"
	AgentSchedulingPending   TaskState = "AGENT_SCHEDULING_PENDING"
	AgentScheduling          TaskState = "AGENT_SCHEDULING"
	AgentExecutingPending    TaskState = "AGENT_EXECUTING_PENDING"
	AgentExecuting           TaskState = "AGENT_EXECUTING"
	AgentStagingOutputPend   TaskState = "AGENT_STAGING_OUTPUT_PENDING"
	AgentStagingOutput       TaskState = "AGENT_STAGING_OUTPUT"
	TmgrStagingOutputPending TaskState = "TMGR_STAGING_OUTPUT_PENDING"
	Done                     TaskState = "DONE"
	Failed                   TaskState = "FAILED"
	Canceled                 TaskState = "CANCELED"
)

// taskStateOrder gives every state its rank in the total order. Built once;
// pkg/statemachine is the only package that mutates histories, but the
// order itself lives here since Task.CurrentState depends on it.
var taskStateOrder = map[TaskState]int{
	TmgrStagingInputPending:  0,
	AgentStagingInputPending: 1,
	AgentStagingInput:        2,
	AgentSchedulingPending:   3,
	AgentScheduling:          4,
	AgentExecutingPending:    5,
	AgentExecuting:           6,
	AgentStagingOutputPend:   7,
	AgentStagingOutput:       8,
	TmgrStagingOutputPending: 9,
	Done:                     10,
	Failed:                   10,
	Canceled:                 10,
}

// Rank returns the state's position in the §4.2 total order. Terminal
// states share the final rank: at most one of them may ever appear in a
// given task's history.
func (s TaskState) Rank() int { return taskStateOrder[s] }

// IsTerminal reports whether s is one of DONE, FAILED, CANCELED.
func (s TaskState) IsTerminal() bool {
	return s == Done || s == Failed || s == Canceled
}

// TaskMode selects how the executor and scheduler treat a task (spec.md §6).
type TaskMode string

const (
	ModeExecutable   TaskMode = "EXECUTABLE"
	ModeFunction     TaskMode = "FUNCTION"
	ModeEval         TaskMode = "EVAL"
	ModeExec         TaskMode = "EXEC"
	ModeProc         TaskMode = "PROC"
	ModeShell        TaskMode = "SHELL"
	ModeMethod       TaskMode = "METHOD"
	ModeRaptorMaster TaskMode = "RAPTOR_MASTER"
	ModeRaptorWorker TaskMode = "RAPTOR_WORKER"
	ModeAgentService TaskMode = "AGENT_SERVICE"
)

// IsRaptorFunction reports whether a task of this mode is a function
// payload that must be routed to a raptor master's request queue rather
// than the main scheduler (spec.md §4.9).
func (m TaskMode) IsRaptorFunction() bool {
	switch m {
	case ModeFunction, ModeEval, ModeExec, ModeProc, ModeShell, ModeMethod:
		return true
	default:
		return false
	}
}

// ThreadingType names the per-rank threading model a launch method must
// account for when it lays out core maps (e.g. "OpenMP", "POSIX", "").
type ThreadingType string

// ResourceRequest is the resource-shaped part of a task description.
type ResourceRequest struct {
	Ranks         int           `json:"ranks"`
	CoresPerRank  int           `json:"cores_per_rank"`
	GpusPerRank   int           `json:"gpus_per_rank"`
	UseMPI        bool          `json:"use_mpi"`
	ThreadingType ThreadingType `json:"threading_type,omitempty"`
}

// StagingAction is the verb of a StagingDirective (spec.md §3, §6).
type StagingAction string

const (
	StagingLink     StagingAction = "LINK"
	StagingCopy     StagingAction = "COPY"
	StagingMove     StagingAction = "MOVE"
	StagingTarball  StagingAction = "TARBALL"
	StagingTransfer StagingAction = "TRANSFER"
)

// StagingDirective is a single declarative file-movement step bound to a
// task (spec.md §3, §6). Source and Target are unresolved URLs; resolution
// against the sandbox context happens in pkg/staging.
type StagingDirective struct {
	Action StagingAction `json:"action"`
	Source string        `json:"source"`
	Target string        `json:"target"`
	Flags  []string      `json:"flags,omitempty"`
}

// TaskDescription is the immutable part of a task, as submitted by the
// client (spec.md §3, field list in §6).
type TaskDescription struct {
	Executable     string             `json:"executable"`
	Arguments      []string           `json:"arguments,omitempty"`
	Environment    map[string]string  `json:"environment,omitempty"`
	PreExec        []string           `json:"pre_exec,omitempty"`
	PostExec       []string           `json:"post_exec,omitempty"`
	Resources      ResourceRequest    `json:"resources"`
	Sandbox        string             `json:"sandbox,omitempty"`
	InputStaging   []StagingDirective `json:"input_staging,omitempty"`
	OutputStaging  []StagingDirective `json:"output_staging,omitempty"`
	Mode           TaskMode           `json:"mode"`
	RaptorID       string             `json:"raptor_id,omitempty"`
	NamedEnv       string             `json:"named_env,omitempty"`
}

// TaskControl is the mailbox claim state of a task (spec.md §6 `control`).
type TaskControl string

const (
	ControlTmgrPending TaskControl = "tmgr_pending"
	ControlAgentPending TaskControl = "agent_pending"
	ControlAgent        TaskControl = "agent"
)

// StateEntry is one (state, timestamp) point in a task's history.
type StateEntry struct {
	State     TaskState `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is the mutable agent-side view of a task: stable identity, immutable
// description, append-only state history, and the fields components attach
// as they hand it down the pipeline (spec.md §3).
type Task struct {
	UID         string          `json:"uid"`
	PilotID     string          `json:"pilot"`
	Control     TaskControl     `json:"control"`
	Description TaskDescription `json:"description"`

	States      []StateEntry `json:"states"`
	TargetState TaskState    `json:"target_state,omitempty"`

	Slots *SlotAssignment `json:"slots,omitempty"`

	ExitCode   *int   `json:"exit_code,omitempty"`
	StdoutTail string `json:"stdout,omitempty"`
	StderrTail string `json:"stderr,omitempty"`
	Exception  string `json:"exception,omitempty"`
}

// CurrentState returns the maximal element of States, or "" if the task has
// no recorded state yet.
func (t *Task) CurrentState() TaskState {
	if len(t.States) == 0 {
		return ""
	}
	return t.States[len(t.States)-1].State
}

// IsTerminal reports whether the task has already reached DONE, FAILED or
// CANCELED; per the §3 invariant, no further transitions are permitted once
// this is true.
func (t *Task) IsTerminal() bool {
	return t.CurrentState().IsTerminal()
}
