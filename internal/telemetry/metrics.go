package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка релизов. Регистрируются в default registry
// и отдаются на /metrics каждого сервиса.
var (
	// TicksTotal — тики оркестратора по результату (advanced, paused, stopped, skipped, error).
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_ticks_total",
		Help: "Total orchestrator ticks by outcome",
	}, []string{"outcome"})

	// TickDuration — длительность одного тика.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shipyard_tick_duration_seconds",
		Help:    "Duration of a single release tick",
		Buckets: prometheus.DefBuckets,
	})

	// TasksExecuted — выполненные задачи по типу и итоговому статусу.
	TasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_tasks_executed_total",
		Help: "Total executed release tasks by type and resulting status",
	}, []string{"type", "status"})

	// StageTransitions — завершённые стадии.
	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_stage_completed_total",
		Help: "Total completed stages",
	}, []string{"stage"})

	// Pauses — постановки на паузу по типу.
	Pauses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_pauses_total",
		Help: "Total release pauses by pause type",
	}, []string{"pause_type"})

	// SubmissionActions — действия над submissions.
	SubmissionActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_submission_actions_total",
		Help: "Total submission actions by platform and action",
	}, []string{"platform", "action"})

	// CallbacksApplied — применённые callback'и (applied / duplicate).
	CallbacksApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_callbacks_total",
		Help: "Total callbacks received by source and result",
	}, []string{"source", "result"})

	// HTTPRequests — запросы к API.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_http_requests_total",
		Help: "Total HTTP requests by method, route pattern and status code",
	}, []string{"method", "route", "code"})
)
