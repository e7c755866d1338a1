/*
Package raptor implements the optional sub-scheduler of spec.md §4.9:
a master that owns request/response queues for high-throughput
function tasks and records its configured worker pool size, and the
worker loop that drains the request queue and reports back on the
response queue. The master does not spawn workers itself.

The master and workers are themselves ordinary tasks from the core's
point of view (a task with mode RAPTOR_MASTER or RAPTOR_WORKER goes
through the normal scheduler/executor pipeline to get spawned); this
package is the protocol they speak, not a replacement for that
pipeline. Agent-0 runs a master's Master inside its own process once
the RAPTOR_MASTER task is executing; workers run Worker in their own
process. Routing a FUNCTION-family task to a
master's request queue instead of the main scheduler, and advancing a
completed raptor task to AGENT_STAGING_OUTPUT_PENDING on result
delivery, is pkg/agent0's job (spec.md §4.9, §9 open question iii).
*/
package raptor
