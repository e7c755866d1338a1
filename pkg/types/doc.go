/*
Package types defines the core data structures shared by every agent-side
component: tasks, pilots, nodes, slot assignments, staging directives, and
the bridge message envelope.

These are the structures that cross component boundaries on the bridges
(pkg/bridge); nothing in this package talks to a bridge, a bolt database, or
a socket directly, so that every other package can depend on it without
cycles.
*/
package types
