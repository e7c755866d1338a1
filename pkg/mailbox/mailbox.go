package mailbox

import "github.com/rpilot/pilot/pkg/types"

// Mailbox is the narrow interface Agent-0 needs from the document-store
// mailbox (spec.md §6, §9 design note "document-store mailbox"):
// claiming newly-owned tasks, draining pilot commands, updating the
// pilot's own metadata, and publishing a task's final state before the
// agent exits. Any store satisfying this can substitute for the
// bolt-backed reference implementation.
type Mailbox interface {
	// ClaimPendingTasks atomically claims up to limit tasks owned by
	// pilotUID whose control is agent_pending, flips their control to
	// agent, and returns the claimed tasks (spec.md §4.8, §6 "atomic
	// find-and-modify(control:agent_pending -> agent, multi)"). The
	// update-then-read ordering happens inside the store, not the
	// caller, so two concurrent pollers never double-claim the same
	// task (spec.md §4.8 "update-then-read ordering is required to
	// avoid re-claiming").
	ClaimPendingTasks(pilotUID string, limit int) ([]*types.Task, error)

	// DrainCommands atomically reads and clears the pilot's pending
	// command list (spec.md §6 "commands are appended by the client,
	// atomically drained by Agent-0 via a find-and-set-empty").
	DrainCommands(pilotUID string) ([]types.ControlMessage, error)

	// UpdatePilotMeta writes the pilot document's mutable fields
	// (state, nodes, resource_details, stdout/stderr/logfile tails).
	UpdatePilotMeta(pilot *types.Pilot) error

	// PublishFinalState writes task's current (terminal) state to the
	// mailbox. Called by Agent-0 when a task published on the STATE
	// bus has reached its terminal state (spec.md §7: "every terminal
	// state is written to the mailbox before the agent exits").
	PublishFinalState(task *types.Task) error

	// GetPilot reads the pilot document, for Agent-0's own startup and
	// for tests seeding/inspecting mailbox state.
	GetPilot(pilotUID string) (*types.Pilot, error)

	// PutPilot writes a full pilot document, used by Agent-0 at
	// startup (PMGR_LAUNCHING -> PMGR_ACTIVE) and by tests seeding a
	// pilot before the agent runs.
	PutPilot(pilot *types.Pilot) error

	// PutTask writes a full task document. Exercised by tests and by
	// the (out-of-scope) client side that originates tasks as
	// tmgr_pending; the agent itself never calls this for a task it
	// doesn't own.
	PutTask(task *types.Task) error

	// GetTask reads a single task document, for tests inspecting
	// mailbox state. Agent-0's raptor result delivery finds its task
	// in memory and does not call it.
	GetTask(taskUID string) (*types.Task, error)

	// AppendCommand appends a command to a pilot's pending list — the
	// client-side half of DrainCommands, exercised by tests that
	// simulate cancel_tasks/cancel_pilot without a real client API.
	AppendCommand(pilotUID string, cmd types.ControlMessage) error

	Close() error
}
