/*
Package subagent implements a sub-agent's bootstrap: rehydrate the
registry as a non-voting follower of Agent-0's cluster, rehydrate the
launch method from the cached lm_info Agent-0 already probed (rather
than reprobing the host), and start the scheduler/executor/staging
component subset over the node slice ResourceManager.SlotsForSubAgent
carved out for it — everything Agent-0 runs except the mailbox
poll/claim loop and the raptor-master routing, which stay exclusive to
Agent-0 (spec.md §4.3, §4.8; SPEC_FULL.md module layout).
*/
package subagent
