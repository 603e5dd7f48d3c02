package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка сделок. Регистрируются в глобальном реестре Prometheus
// и отдаются по /metrics.
var (
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_order_transitions_total",
		Help: "Количество переходов заказов по типу и результату.",
	}, []string{"transition", "outcome"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_job_runs_total",
		Help: "Количество запусков фоновых задач по имени и результату.",
	}, []string{"job", "outcome"})

	JobItemErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_job_item_errors_total",
		Help: "Ошибки обработки отдельных элементов в фоновых задачах.",
	}, []string{"job"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_http_requests_total",
		Help: "Количество HTTP-запросов по методу, маршруту и статусу.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_http_request_duration_seconds",
		Help:    "Длительность обработки HTTP-запросов.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Результаты для меток outcome.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)
