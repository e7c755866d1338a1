/*
Package log wraps zerolog in the shape every other rpilot package expects:
a single process-wide Logger set up once in main() via Init, plus small
helpers that attach the fields components reach for constantly —
component, pilot_id, task_id — without repeating them at every call site.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Str("task_id", uid).Msg("placed task")

JSONOutput is for production; console output (the default) is for a
terminal attached to agent_0 during development.
*/
package log
