/*
Package staging implements the two local file-movement components of
§4.7: Staging-Input (AGENT_STAGING_INPUT_PENDING → AGENT_SCHEDULING_PENDING)
and Staging-Output (AGENT_STAGING_OUTPUT_PENDING → TMGR_STAGING_OUTPUT_PENDING,
then Finalize to the task's terminal state). Both enact only LINK, COPY,
MOVE, and TARBALL; TRANSFER is a client-side concern and is rejected if
it reaches the agent.

Source and target URLs are resolved against a sandbox context (task,
pilot, session, resource, endpoint) before any filesystem operation —
see ResolveURL. Since the agent only ever runs staging for its own
resource, every resolved URL is a local path: the component never
reaches the network.

A task arriving with no actionable directives skips the work loop
entirely and advances inline, so a quiet batch of tasks never waits
behind a single slow staging operation — the streaming equivalent of
the original's separate no-staging/staging bulk split.
*/
package staging
