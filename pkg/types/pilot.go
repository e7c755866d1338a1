package types

import "time"

// PilotState is the lifecycle state of a pilot (spec.md §3).
type PilotState string

const (
	PilotLaunching PilotState = "PMGR_LAUNCHING"
	PilotActive    PilotState = "PMGR_ACTIVE"
	PilotDone      PilotState = "DONE"
	PilotFailed    PilotState = "FAILED"
	PilotCanceled  PilotState = "CANCELED"
)

// TerminationCause records why a pilot reached its terminal state, used to
// pick the right terminal PilotState in Agent-0's terminate sequence
// (spec.md §4.8).
type TerminationCause string

const (
	CauseNone    TerminationCause = ""
	CauseTimeout TerminationCause = "timeout"
	CauseCancel  TerminationCause = "cancel"
	CauseSysExit TerminationCause = "sys.exit"
	CauseError   TerminationCause = "error"
)

// TerminalState maps a termination cause to the pilot state Agent-0 writes
// to the mailbox on its way out (spec.md §4.8, end-to-end scenario 5/6).
func (c TerminationCause) TerminalState() PilotState {
	switch c {
	case CauseTimeout:
		return PilotDone
	case CauseCancel, CauseSysExit:
		return PilotCanceled
	default:
		return PilotFailed
	}
}

// ResourceDetails is the resource_details block attached to the pilot's
// first published ACTIVE state (original_source agent_0.py:initialize,
// carried forward as a supplemented feature — see SPEC_FULL.md).
type ResourceDetails struct {
	LMInfo   map[string]any `json:"lm_info,omitempty"`
	LMDetail string         `json:"lm_detail,omitempty"`
	RMInfo   map[string]any `json:"rm_info,omitempty"`
}

// Pilot is a placeholder resource allocation in which tasks run (spec.md §3).
// The mailbox document also carries the fields spec.md §6 lists for the
// `pilot` collection: a client-appended command queue and stdout/
// stderr/logfile tail fields (§4.8). Agent-0's terminate sequence
// leaves the tail fields empty.
type Pilot struct {
	UID             string           `json:"uid"`
	ResourceLabel   string           `json:"resource"`
	AccessSchema    string           `json:"access_schema,omitempty"`
	Cores           int              `json:"cores"`
	Gpus            int              `json:"gpus"`
	RuntimeMinutes  int              `json:"runtime"`
	SandboxURL      string           `json:"sandbox"`
	State           PilotState       `json:"state"`
	Cause           TerminationCause `json:"cause,omitempty"`
	Nodes           []*Node          `json:"nodes,omitempty"`
	ResourceDetails *ResourceDetails `json:"resource_details,omitempty"`
	StartedAt       time.Time        `json:"started_at,omitempty"`

	Commands   []ControlMessage `json:"cmd,omitempty"`
	StdoutTail string           `json:"stdout,omitempty"`
	StderrTail string           `json:"stderr,omitempty"`
	LogFile    string           `json:"logfile,omitempty"`
}
