/*
Package resourcemanager discovers the node inventory an agent runs on,
once, at startup (§4.3). A backend (hostfile, scheduler environment
variables, or a single-node fallback) produces the set of usable
nodes, which never change for the lifetime of the pilot. The inventory
is not written to the registry.

SlotsForSubAgent picks one node per sub-agent, deterministically from
the sub-agent's uid. It reserves no core there, so a sub-agent shares
that node's cores with the workload tasks the scheduler places.
*/
package resourcemanager
