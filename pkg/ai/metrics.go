package ai

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgen_ai_attempts_total",
		Help: "Provider attempts made by the executor, including retries",
	}, []string{"operation"})
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgen_ai_calls_total",
		Help: "Executor calls by final outcome",
	}, []string{"operation", "status"})
	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docgen_ai_call_duration_seconds",
		Help:    "Wall-clock time from first attempt to final outcome",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 75, 120},
	}, []string{"operation"})
	backoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docgen_ai_backoff_seconds",
		Help:    "Backoff delays slept between attempts",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 40},
	})
	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgen_ai_tokens_total",
		Help: "Tokens reported by the provider on successful calls",
	}, []string{"operation"})
)
