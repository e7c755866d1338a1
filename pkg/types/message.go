package types

import (
	"encoding/json"
	"time"
)

// Topic names the two control-plane buses of spec.md §2/§6, plus the two
// pipeline queue families. Components also address ad hoc app_comm topics
// (SPEC_FULL.md) and per-stage queues by name; those are plain strings, not
// enumerated here.
type Topic string

const (
	TopicControl Topic = "CONTROL"
	TopicState   Topic = "STATE"
)

// ControlVerb is the command carried by a CONTROL message (spec.md §6).
type ControlVerb string

const (
	CmdTerminate   ControlVerb = "terminate"
	CmdCancelPilot ControlVerb = "cancel_pilot"
	CmdCancelTasks ControlVerb = "cancel_tasks"
	CmdSlotRelease ControlVerb = "slot_release"
	CmdHeartbeat   ControlVerb = "heartbeat"
)

// ControlMessage is the payload of a CONTROL-topic message.
type ControlMessage struct {
	Verb      ControlVerb     `json:"cmd"`
	TaskUIDs  []string        `json:"uids,omitempty"`
	Slots     *SlotAssignment `json:"slots,omitempty"`
	UID       string          `json:"uid,omitempty"`
	Timestamp time.Time       `json:"ts,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// StateMessage is the payload of a STATE-topic message: a snapshot of one
// task immediately after an owning component advanced it.
type StateMessage struct {
	Task *Task `json:"task"`
}

// RaptorRequest is one function-task invocation routed to a raptor
// master's request queue instead of the main scheduler (spec.md §4.9).
// Payload is the opaque RPC-serialized callable envelope
// (`{func, args, kwargs}`, spec.md §9) — the core transports it without
// interpreting it.
type RaptorRequest struct {
	TaskUID  string          `json:"task_uid"`
	RaptorID string          `json:"raptor_id"`
	Mode     TaskMode        `json:"mode"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// RaptorResult is a raptor worker's report back to its master's
// response queue for one RaptorRequest (spec.md §4.9).
type RaptorResult struct {
	TaskUID   string          `json:"task_uid"`
	ExitCode  int             `json:"exit_code"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Exception string          `json:"exception,omitempty"`
}

// Message is the generic (topic, payload, originator) triple of spec.md §3.
// Bridge implementations use it for pub/sub delivery; queue delivery is
// typed per queue (see pkg/bridge). Raptor's request/response queues carry
// RaptorRequest/RaptorResult instead of Control/State.
type Message struct {
	Topic      Topic  `json:"topic"`
	Originator string `json:"originator"`
	Control    *ControlMessage `json:"control,omitempty"`
	State      *StateMessage   `json:"state,omitempty"`
	Request    *RaptorRequest  `json:"request,omitempty"`
	Result     *RaptorResult   `json:"result,omitempty"`
}
