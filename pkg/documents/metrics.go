package documents

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgen_documents_generated_total",
		Help: "Generation attempts by document type and result",
	}, []string{"document_type", "result"})
	costUSDTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgen_documents_cost_usd_total",
		Help: "Estimated provider spend on generation in USD",
	}, []string{"document_type"})
	promptTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docgen_documents_prompt_tokens",
		Help:    "Prompt tokens counted before generation",
		Buckets: prometheus.ExponentialBuckets(64, 2, 12),
	})
	qaScores = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docgen_documents_qa_score",
		Help:    "QA scores returned by review passes",
		Buckets: prometheus.LinearBuckets(10, 10, 10),
	}, []string{"document_type"})
	uploadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docgen_documents_uploaded_bytes_total",
		Help: "Bytes accepted for reference uploads",
	})
)
