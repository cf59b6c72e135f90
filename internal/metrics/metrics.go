// Package metrics exposes Prometheus collectors for the harvester.
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
	documentsTotal        *prometheus.CounterVec
	duplicatesTotal       *prometheus.CounterVec
	fetchErrorsTotal      *prometheus.CounterVec
	rateLimitDelaySeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_documents_total",
				Help: "Documents persisted, labeled by institution and category.",
			},
			[]string{"institution", "category"},
		)

		duplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_duplicates_total",
				Help: "Documents rejected by content deduplication, labeled by institution.",
			},
			[]string{"institution"},
		)

		fetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_errors_total",
				Help: "Per-document errors, labeled by institution and error kind.",
			},
			[]string{"institution", "kind"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_politeness_delay_seconds",
				Help:    "Histogram of politeness-delay wait durations per host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing the collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDocument increments the persisted-document counter.
func ObserveDocument(institution, category string) {
	if documentsTotal == nil {
		return
	}
	documentsTotal.WithLabelValues(institution, category).Inc()
}

// ObserveDuplicate increments the duplicate counter.
func ObserveDuplicate(institution string) {
	if duplicatesTotal == nil {
		return
	}
	duplicatesTotal.WithLabelValues(institution).Inc()
}

// ObserveError increments the error counter for the given kind.
func ObserveError(institution, kind string) {
	if fetchErrorsTotal == nil {
		return
	}
	fetchErrorsTotal.WithLabelValues(institution, kind).Inc()
}

// ObservePolitenessDelay records how long a request waited for its host slot.
func ObservePolitenessDelay(host string, d time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}
