// Package metrics registers the back office's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "omnifin"

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "route"},
	)

	// AIReplies counts assistant replies by source: provider, fallback or error.
	AIReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "replies_total",
			Help:      "Assistant replies by source",
		},
		[]string{"source"},
	)

	ProviderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "provider_duration_seconds",
			Help:      "Provider chat call duration in seconds, retries included",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "uploads_total",
			Help:      "Stored uploads by kind",
		},
		[]string{"kind", "status"},
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "upload_bytes_total",
			Help:      "Total bytes stored",
		},
		[]string{"kind"},
	)

	PromptCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prompts",
			Name:      "cache_lookups_total",
			Help:      "Prompt cache lookups by result: hit, miss or error",
		},
		[]string{"result"},
	)
)

// Reply sources.
const (
	SourceProvider = "provider"
	SourceFallback = "fallback"
	SourceError    = "error"
)

func RecordRequest(method, route, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}

func RecordReply(source string) {
	AIReplies.WithLabelValues(source).Inc()
}

func RecordUpload(kind, status string, bytes int64) {
	UploadsTotal.WithLabelValues(kind, status).Inc()
	if status == "success" {
		UploadBytesTotal.WithLabelValues(kind).Add(float64(bytes))
	}
}

func RecordPromptCache(result string) {
	PromptCacheLookups.WithLabelValues(result).Inc()
}
