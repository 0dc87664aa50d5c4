// Package metrics exposes Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsFinishedTotal    *prometheus.CounterVec
	pagesIndexedTotal    prometheus.Counter
	chunksIndexedTotal   prometheus.Counter
	queriesTotal         *prometheus.CounterVec
	queryDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitechat_runs_finished_total",
				Help: "Total number of pipeline runs reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)
		pagesIndexedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitechat_pages_indexed_total",
				Help: "Total number of pages indexed across all runs.",
			},
		)
		chunksIndexedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitechat_chunks_indexed_total",
				Help: "Total number of chunks upserted across all runs.",
			},
		)
		queriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitechat_queries_total",
				Help: "Total number of answer queries, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		queryDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitechat_query_duration_seconds",
				Help:    "End-to-end answer query latency.",
				Buckets: prometheus.DefBuckets,
			},
		)
	})
}

// RunFinished records a run reaching a terminal status.
func RunFinished(status string) {
	if runsFinishedTotal != nil {
		runsFinishedTotal.WithLabelValues(status).Inc()
	}
}

// PageIndexed records one indexed page and its chunk count.
func PageIndexed(chunks int) {
	if pagesIndexedTotal != nil {
		pagesIndexedTotal.Inc()
	}
	if chunksIndexedTotal != nil {
		chunksIndexedTotal.Add(float64(chunks))
	}
}

// QueryObserved records one answer query and its latency.
func QueryObserved(outcome string, dur time.Duration) {
	if queriesTotal != nil {
		queriesTotal.WithLabelValues(outcome).Inc()
	}
	if queryDurationSeconds != nil {
		queryDurationSeconds.Observe(dur.Seconds())
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
