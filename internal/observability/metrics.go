package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline collectors. Label values are small fixed sets (outcomes,
// strategy names, service names) so cardinality stays bounded.
var (
	videosTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosstitles_videos_total",
			Help: "Videos handled by the pipeline, by outcome.",
		},
		[]string{"outcome"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosstitles_cache_lookups_total",
			Help: "Identification cache lookups, by result (hit/miss).",
		},
		[]string{"result"},
	)

	identifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bosstitles_identify_duration_seconds",
			Help:    "Duration of identification strategy calls in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"strategy", "result"},
	)

	externalRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosstitles_external_retries_total",
			Help: "Retries of external calls after transient failures, by service.",
		},
		[]string{"service"},
	)

	workersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bosstitles_workers_busy",
			Help: "Workers currently processing a video.",
		},
	)
)

func init() {
	prometheus.MustRegister(videosTotal, cacheLookups, identifyDuration, externalRetries, workersBusy)
}

// ObserveVideo counts one finished video.
func ObserveVideo(outcome string) { videosTotal.WithLabelValues(outcome).Inc() }

// ObserveCacheLookup counts one cache lookup.
func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveIdentify records one strategy call.
func ObserveIdentify(strategy, result string, d time.Duration) {
	identifyDuration.WithLabelValues(strategy, result).Observe(d.Seconds())
}

// ObserveRetry counts one retry against service.
func ObserveRetry(service string) { externalRetries.WithLabelValues(service).Inc() }

// WorkerBusy marks a worker busy until the returned func is called.
func WorkerBusy() func() {
	workersBusy.Inc()
	return workersBusy.Dec
}
