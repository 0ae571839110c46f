// Package metrics exposes prometheus collectors for the chat and ingestion
// pipelines, served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChatRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsrag_chat_requests_total",
		Help: "Chat messages handled",
	})
	ChatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsrag_chat_failures_total",
		Help: "Chat requests failed at embedding or search time",
	})
	GenerationFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsrag_generation_fallbacks_total",
		Help: "Chat responses answered with the fixed fallback text",
	})
	ChatDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newsrag_chat_duration_seconds",
		Help:    "End to end chat request latency",
		Buckets: prometheus.DefBuckets,
	})
	RetrievalScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newsrag_retrieval_score",
		Help:    "Similarity scores of retrieved articles",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
	ArticlesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsrag_articles_ingested_total",
		Help: "Articles embedded and upserted by ingestion runs",
	})
	IngestBatchesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsrag_ingest_batches_skipped_total",
		Help: "Embedding batches skipped after failures",
	})
)
