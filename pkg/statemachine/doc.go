/*
Package statemachine enforces the task state order of §4.2: a fixed
sequence of PENDING/active state pairs terminating in one of DONE,
FAILED, or CANCELED. Every component that hands a task to the next
stage does so through Advance, Fail, or Cancel rather than mutating
Task.States directly, so the append-only, monotonic-rank invariant
(§3, §8) has exactly one enforcement point.
*/
package statemachine
