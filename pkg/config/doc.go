/*
Package config loads and derives the JSON configuration agent_0 and its
sub-agents start from: pilot identity, sandbox paths, the resource and
launch method names to instantiate, the bridge/component catalog, and
heartbeat timing. agent_0 reads AgentConfig from disk at startup
(written by the bootstrapper before exec); DeriveSubAgentConfig then
produces the narrower view each sub-agent gets, the way agent_0's
original `_write_sa_configs` step does.

Launch-method probe results (lm_info, §4.5) are cached separately as
YAML next to the agent sandbox so a restarted agent doesn't re-probe
mpirun/srun on every launch.
*/
package config
