/*
Package scheduler places AGENT_SCHEDULING_PENDING tasks onto per-node
core/gpu slots and emits AGENT_EXECUTING_PENDING once placed (§4.5).

Each node contributes a free-core and free-gpu bitmap. Placement is
first-fit by rank-compactness: for a task needing N ranks, the
scheduler tries the smallest node count that can host all ranks, and
within a node picks the lowest-indexed free core window of the
required width. Tasks that do not fit join a FIFO waitlist and are
re-evaluated whenever the executor releases slots.
*/
package scheduler
