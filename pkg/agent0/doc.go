/*
Package agent0 implements the pilot's supervisor (spec.md §4.8): it
claims newly-owned tasks from the mailbox, drains client commands,
enforces the pilot's own runtime deadline, and runs the terminate
sequence that writes a final pilot state back to the mailbox before
the process exits. It owns the resource-manager and launch-method
selection (by config string, with the launch method's probe cached as
lm_info), wires the scheduler/executor/staging pipeline over a bridge,
and routes raptor-tagged function tasks to their master's request
queue instead of the main scheduler (spec.md §4.9).
*/
package agent0
