/*
Package metrics exposes the agent's Prometheus instrumentation.

One process-wide registry, populated at package init and served over
/metrics by whichever component owns the HTTP listener (normally
agent_0). Metrics are grouped by the pipeline stage that updates them:

  - Heartbeat bus: misses per component, last-beat age
  - Task pipeline: tasks by state, state-transition counts
  - Scheduler: placement latency, placements/waitlist length
  - Executor: spawn/exit counts, process duration
  - Staging: operations by action and direction, duration
  - Registry: Raft leader flag, log/applied index, peer count

# Usage

	timer := metrics.NewTimer()
	place(task)
	timer.ObserveDuration(metrics.SchedulingLatency)

	metrics.TasksByState.WithLabelValues(string(task.CurrentState())).Inc()

	http.Handle("/metrics", metrics.Handler())

Collector polls a Snapshot source on a fixed interval for the gauges
that aren't naturally updated inline (registry/raft state, current
task-state distribution) — see collector.go.
*/
package metrics
