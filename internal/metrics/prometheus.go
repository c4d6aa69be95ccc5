package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cot_reflect_provider_calls_total",
			Help: "Model invocations by model and outcome",
		},
		[]string{"model", "status"},
	)

	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cot_reflect_provider_latency_seconds",
			Help:    "Model invocation latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"model"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cot_reflect_stage_duration_seconds",
			Help:    "Reflection stage duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"stage"},
	)

	StageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cot_reflect_stage_errors_total",
			Help: "Provider failures carried forward as stage output",
		},
		[]string{"stage"},
	)

	FallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cot_reflect_output_fallback_total",
			Help: "Runs whose final output had to be synthesized by the fallback prompt",
		},
	)

	PipelineTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cot_reflect_pipeline_runs_total",
			Help: "Reflection pipeline runs by outcome",
		},
		[]string{"status"},
	)

	SnapshotOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cot_reflect_snapshot_operations_total",
			Help: "Snapshot store operations by kind and outcome",
		},
		[]string{"op", "status"},
	)

	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cot_reflect_evaluations_total",
			Help: "Comparative evaluations by outcome",
		},
		[]string{"status"},
	)

	EvaluationScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cot_reflect_evaluation_score",
			Help:    "Parsed judge scores per metric",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
		[]string{"metric"},
	)

	ScoreParseMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cot_reflect_score_parse_misses_total",
			Help: "Metrics the judge verdict did not yield a score for",
		},
		[]string{"metric"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cot_reflect_circuit_breaker_state",
			Help: "Circuit breaker state per model (0 closed, 1 half-open, 2 open)",
		},
		[]string{"model"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cot_reflect_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cot_reflect_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ProviderCalls,
			ProviderLatency,
			StageDuration,
			StageErrors,
			FallbackTotal,
			PipelineTotal,
			SnapshotOps,
			EvaluationsTotal,
			EvaluationScore,
			ScoreParseMisses,
			BreakerState,
			CacheHits,
			CacheMisses,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// Status maps an error to the status label used across counters.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
