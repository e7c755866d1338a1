/*
Package component supervises the agent's worker components (scheduler,
executor, staging-input, staging-output, raptor master) the way the
original agent_0's ComponentManager does: bring up bridges first, then
components, track each component's heartbeat, and terminate the whole
agent if any component misses its deadline (§4.1).

Startup is staged because components need their bridges to already be
routable before they can subscribe or publish — exactly the ordering
agent_0's `_cmgr.start_bridges()` then `_cmgr.start_components()` calls
enforce.
*/
package component
