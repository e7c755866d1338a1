/*
Package executor consumes placed tasks (AGENT_EXECUTING_PENDING) and runs
them to completion (§4.6). For each task it synthesizes a launch script
(rank-env prelude, pre_exec, the launch method's command line, post_exec),
spawns it as a process-group leader with stdout/stderr redirected into
the task sandbox, and watches for exit.

Container-backed tasks skip script synthesis entirely: the executor
type-asserts the wired launchmethod.LM for launchmethod.ContainerRunner
and drives RunContainer directly, since "create and wait on an OCI
task" doesn't fit the shell-command-line contract every other launch
method satisfies.

On exit the executor reads the exit code and ~1KB tails of stdout/
stderr, advances the task to AGENT_STAGING_OUTPUT_PENDING via
pkg/statemachine (with target_state FAILED on a non-zero exit, so output
staging later finalizes it as DONE or FAILED), and publishes a
slot_release control message so the scheduler can free the
task's cores/gpus. Cancellation delivers SIGTERM (then SIGKILL after a
grace period) to the whole process group.
*/
package executor
