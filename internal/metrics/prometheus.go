package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vettan_pipeline_duration_seconds",
			Help:    "Research pipeline duration in seconds by path",
			Buckets: []float64{0.05, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"path"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vettan_requests_total",
			Help: "Research requests by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vettan_cache_lookups_total",
			Help: "Query cache lookups by result (hit, miss, stale, error)",
		},
		[]string{"layer", "result"},
	)

	SearchCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vettan_search_calls_total",
			Help: "Sub-query search calls by status (success, failure, abandoned)",
		},
		[]string{"status"},
	)

	SourcesPerRun = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vettan_sources_per_run",
			Help:    "Ranked sources kept per research run",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	QualityGate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vettan_quality_gate_total",
			Help: "Quality gate outcomes by checkpoint",
		},
		[]string{"checkpoint", "result"},
	)

	LLMCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vettan_llm_calls_total",
			Help: "LLM completion calls by model and status",
		},
		[]string{"model", "status"},
	)

	LLMTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vettan_llm_tokens_total",
			Help: "LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMCost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vettan_llm_cost_usd_total",
			Help: "Estimated LLM spend in USD",
		},
	)

	BootstrapMessageFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vettan_bootstrap_message_failures_total",
			Help: "Sessions persisted without their bootstrap messages",
		},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vettan_active_websocket_connections",
			Help: "Number of open research websocket connections",
		},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			PipelineDuration,
			RequestsTotal,
			CacheLookups,
			SearchCalls,
			SourcesPerRun,
			QualityGate,
			LLMCallsTotal,
			LLMTokensTotal,
			LLMCost,
			BootstrapMessageFailures,
			ActiveConnections,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
