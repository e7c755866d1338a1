/*
Package bridge provides the named communication channels components
talk over: control and state pub/sub topics, and point-to-point task
queues (scheduler→executor handoffs, raptor master↔worker). A bridge
is addressed by name only — callers never know whether it's backed by
in-process channels or a NATS connection.

Local is the default: same-process components share one broker over
buffered Go channels, generalized from a single broadcast channel into
named topics. NATS backs the cross-process/cross-node cases — Agent-0
talking to a sub-agent on another node group, or a raptor master
talking to workers spawned as separate processes — since those need an
actual wire protocol and NATS needs no code generation to use
correctly.
*/
package bridge
