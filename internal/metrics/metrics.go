package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediaingest",
			Subsystem: "fetcher",
			Name:      "fetches_total",
			Help:      "Image fetches by outcome (cache_hit, fetched, failed)",
		},
		[]string{"outcome"},
	)

	FetchBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mediaingest",
			Subsystem: "fetcher",
			Name:      "fetch_bytes_total",
			Help:      "Total bytes downloaded from remote image hosts",
		},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mediaingest",
			Subsystem: "fetcher",
			Name:      "fetch_duration_seconds",
			Help:      "Remote image download duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediaingest",
			Subsystem: "pipeline",
			Name:      "tasks_total",
			Help:      "Image tasks by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mediaingest",
			Subsystem: "pipeline",
			Name:      "task_duration_seconds",
			Help:      "Image task duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediaingest",
			Subsystem: "queue",
			Name:      "dead_letters_total",
			Help:      "Tasks published to the dead-letter topic by error kind",
		},
		[]string{"kind"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediaingest",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

func RecordFetch(outcome string) {
	FetchesTotal.WithLabelValues(outcome).Inc()
}

func RecordDownload(bytes int64, durationSec float64) {
	FetchBytesTotal.Add(float64(bytes))
	FetchDuration.Observe(durationSec)
}

func RecordTask(kind, outcome string, durationSec float64) {
	TasksTotal.WithLabelValues(kind, outcome).Inc()
	TaskDuration.WithLabelValues(kind).Observe(durationSec)
}

func RecordDeadLetter(kind string) {
	DeadLettersTotal.WithLabelValues(kind).Inc()
}

func RecordRequest(method, route, status string) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
}
