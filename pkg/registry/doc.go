/*
Package registry is the pilot's single-writer key/value store:
session, pilot, and resource-manager configuration published once and
read by every sub-agent (§4.3's "single writer" requirement). A single
node — Agent-0 — holds Raft leadership; sub-agents on other node
groups see a consistent, immutable-after-publish view replicated over
Raft the same way the teacher replicates cluster state, just with a
flat key/value FSM instead of node/service/task tables. In this module
only the tests write keys: Agent-0 and the sub-agents start and stop
the store but do not Put or Get anything in it.

The heartbeat-loss detector (§4.1) lives here too: a TTL cache keyed by
component uid, where expiry of an entry without a renewed beat *is* the
failure signal — the cache's eviction callback reports it to the
component manager as a missed heartbeat.
*/
package registry
