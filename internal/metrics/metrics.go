// Package metrics exposes Prometheus collectors for the ingest service.
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
	ingestRunsTotal          *prometheus.CounterVec
	ingestItemsFetchedTotal  prometheus.Counter
	ingestFetchErrorsTotal   prometheus.Counter
	ingestListErrorsTotal    prometheus.Counter
	ingestStoriesTotal       prometheus.Counter
	ingestJobsPublishedTotal *prometheus.CounterVec
	ingestJobsDedupedTotal   *prometheus.CounterVec
	ingestRunDurationSeconds *prometheus.HistogramVec
	ingestInflightFetches    prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Total number of discovery runs, labeled by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		)

		ingestItemsFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_items_fetched_total",
				Help: "Total number of item detail records fetched successfully.",
			},
		)

		ingestFetchErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_fetch_errors_total",
				Help: "Total number of item fetch failures.",
			},
		)

		ingestListErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_list_errors_total",
				Help: "Total number of discovery list fetch failures.",
			},
		)

		ingestStoriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_stories_ingested_total",
				Help: "Total number of stories upserted into storage.",
			},
		)

		ingestJobsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_published_total",
				Help: "Total number of jobs published, labeled by queue.",
			},
			[]string{"queue"},
		)

		ingestJobsDedupedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_deduped_total",
				Help: "Total number of keyed publishes skipped as duplicates, labeled by queue.",
			},
			[]string{"queue"},
		)

		ingestRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_run_duration_seconds",
				Help:    "Histogram of run durations, labeled by mode.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		)

		ingestInflightFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_inflight_fetches",
				Help: "Number of item fetches currently in flight.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records a completed run with its outcome and duration.
func ObserveRun(mode string, outcome string, duration time.Duration) {
	ingestRunsTotal.WithLabelValues(mode, outcome).Inc()
	ingestRunDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveItemsFetched adds to the fetched-items counter.
func ObserveItemsFetched(n int64) {
	if n > 0 {
		ingestItemsFetchedTotal.Add(float64(n))
	}
}

// ObserveFetchErrors adds to the fetch-failure counter.
func ObserveFetchErrors(n int64) {
	if n > 0 {
		ingestFetchErrorsTotal.Add(float64(n))
	}
}

// ObserveListError increments the list-failure counter.
func ObserveListError() {
	ingestListErrorsTotal.Inc()
}

// ObserveStoryIngested increments the stories counter.
func ObserveStoryIngested() {
	ingestStoriesTotal.Inc()
}

// ObservePublish records a publish attempt outcome for a queue.
func ObservePublish(queue string, published bool) {
	if published {
		ingestJobsPublishedTotal.WithLabelValues(queue).Inc()
		return
	}
	ingestJobsDedupedTotal.WithLabelValues(queue).Inc()
}

// IncInflightFetches increments the in-flight fetches gauge.
func IncInflightFetches() {
	ingestInflightFetches.Inc()
}

// DecInflightFetches decrements the in-flight fetches gauge.
func DecInflightFetches() {
	ingestInflightFetches.Dec()
}
