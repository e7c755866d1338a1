package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task pipeline metrics
	TasksByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpilot_tasks_by_state",
			Help: "Current number of tasks in each pipeline state",
		},
		[]string{"state"},
	)

	TaskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpilot_task_transitions_total",
			Help: "Total number of task state transitions by target state",
		},
		[]string{"state"},
	)

	// Heartbeat bus metrics
	HeartbeatMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpilot_heartbeat_misses_total",
			Help: "Total number of heartbeat deadline misses by component",
		},
		[]string{"component"},
	)

	HeartbeatAgeSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpilot_heartbeat_age_seconds",
			Help: "Seconds since the last heartbeat was seen for a component",
		},
		[]string{"component"},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rpilot_scheduling_latency_seconds",
			Help:    "Time from task entering the scheduler to slot placement",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rpilot_tasks_scheduled_total",
			Help: "Total number of tasks placed on slots",
		},
	)

	WaitlistLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpilot_scheduler_waitlist_length",
			Help: "Current number of tasks waiting for a fitting slot",
		},
	)

	// Executor metrics
	TasksSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rpilot_tasks_spawned_total",
			Help: "Total number of tasks spawned by the executor",
		},
	)

	TasksExitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpilot_tasks_exited_total",
			Help: "Total number of tasks that exited, by outcome",
		},
		[]string{"outcome"},
	)

	TaskRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rpilot_task_run_duration_seconds",
			Help:    "Wall-clock duration of executed tasks in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600, 14400},
		},
	)

	// Staging metrics
	StagingOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpilot_staging_ops_total",
			Help: "Total number of staging directives executed by action and direction",
		},
		[]string{"action", "direction"},
	)

	StagingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpilot_staging_duration_seconds",
			Help:    "Time taken to execute a staging directive in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// Registry (raft) metrics
	RegistryIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpilot_registry_is_leader",
			Help: "Whether this process holds registry raft leadership (1=leader, 0=follower)",
		},
	)

	RegistryPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpilot_registry_peers_total",
			Help: "Total number of registry raft peers",
		},
	)

	RegistryLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpilot_registry_log_index",
			Help: "Current registry raft log index",
		},
	)

	RegistryAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpilot_registry_applied_index",
			Help: "Last applied registry raft log index",
		},
	)

	RegistryApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rpilot_registry_apply_duration_seconds",
			Help:    "Time taken to apply a registry raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Mailbox metrics
	MailboxTasksClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rpilot_mailbox_tasks_claimed_total",
			Help: "Total number of tasks claimed from the mailbox by Agent-0's poll loop",
		},
	)

	MailboxPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rpilot_mailbox_poll_duration_seconds",
			Help:    "Time taken by one Agent-0 mailbox poll cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Raptor metrics
	RaptorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpilot_raptor_requests_total",
			Help: "Total number of function tasks routed to a raptor master, by master uid",
		},
		[]string{"master"},
	)

	RaptorResultDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rpilot_raptor_result_duration_seconds",
			Help:    "Time from a raptor request being queued to its result being delivered",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		TasksByState,
		TaskTransitionsTotal,
		HeartbeatMissesTotal,
		HeartbeatAgeSeconds,
		SchedulingLatency,
		TasksScheduledTotal,
		WaitlistLength,
		TasksSpawnedTotal,
		TasksExitedTotal,
		TaskRunDuration,
		StagingOpsTotal,
		StagingDuration,
		RegistryIsLeader,
		RegistryPeers,
		RegistryLogIndex,
		RegistryAppliedIndex,
		RegistryApplyDuration,
		MailboxTasksClaimedTotal,
		MailboxPollDuration,
		RaptorRequestsTotal,
		RaptorResultDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
