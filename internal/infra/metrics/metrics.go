// Package metrics provides Prometheus collectors for the task distribution
// engine: scheduling decisions, lock contention, quiz transitions, and
// result materialization.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Scheduling ─────────────────────────────────────────────────────────────

// TasksScheduled counts tasks handed out, by scheduler policy.
var TasksScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pybossa",
	Name:      "tasks_scheduled_total",
	Help:      "Total tasks handed out to contributors.",
}, []string{"policy"})

// ScheduleEmpty counts requests that found no eligible work, by reason.
var ScheduleEmpty = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pybossa",
	Name:      "schedule_empty_total",
	Help:      "Scheduling requests that returned no task.",
}, []string{"reason"})

// ScheduleLatency tracks end-to-end scheduling decision duration.
var ScheduleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pybossa",
	Name:      "schedule_latency_seconds",
	Help:      "Time to compute a scheduling decision.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
})

// ─── Locks ──────────────────────────────────────────────────────────────────

// LockAcquires counts lock acquisition attempts by outcome
// (granted, contended, error).
var LockAcquires = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pybossa",
	Name:      "lock_acquires_total",
	Help:      "Task lock acquisition attempts.",
}, []string{"outcome"})

// LockReleases counts explicit lock releases (client cancellations).
var LockReleases = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pybossa",
	Name:      "lock_releases_total",
	Help:      "Explicit task lock releases.",
})

// ─── Quiz ───────────────────────────────────────────────────────────────────

// QuizTransitions counts quiz state transitions by target status.
var QuizTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pybossa",
	Name:      "quiz_transitions_total",
	Help:      "Quiz state machine transitions.",
}, []string{"to"})

// ─── Redundancy ─────────────────────────────────────────────────────────────

// ResultsMaterialized counts consensus results written.
var ResultsMaterialized = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pybossa",
	Name:      "results_materialized_total",
	Help:      "Consensus results materialized for completed tasks.",
})

// TasksReopened counts completed tasks flipped back to ongoing by a
// redundancy raise.
var TasksReopened = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pybossa",
	Name:      "tasks_reopened_total",
	Help:      "Tasks reopened because their redundancy target was raised.",
})

// TaskRunsRecorded counts accepted contributor answers.
var TaskRunsRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pybossa",
	Name:      "task_runs_recorded_total",
	Help:      "Task runs accepted from contributors.",
})
