package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	syncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pocketplan",
			Name:      "sync_cycles_total",
			Help:      "Completed sync cycles by result.",
		},
		[]string{"result"},
	)

	actionsFlushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pocketplan",
			Name:      "actions_flushed_total",
			Help:      "Pending actions confirmed by the server, by kind.",
		},
		[]string{"kind"},
	)

	actionRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pocketplan",
			Name:      "action_retries_total",
			Help:      "Transient action failures scheduled for retry.",
		},
	)

	actionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pocketplan",
			Name:      "action_failures_total",
			Help:      "Actions marked terminally failed.",
		},
	)

	conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pocketplan",
			Name:      "conflicts_total",
			Help:      "Divergent records resolved, by outcome.",
		},
		[]string{"outcome"},
	)

	syncInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pocketplan",
			Name:      "sync_in_flight",
			Help:      "1 while a sync cycle is running.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncCycles, actionsFlushed, actionRetries, actionFailures, conflicts, syncInFlight)
	})
}

// IncCycle increments the counter for a cycle result label.
func IncCycle(result string) {
	syncCycles.WithLabelValues(result).Inc()
}

// IncFlushed increments the counter for a confirmed action kind.
func IncFlushed(kind string) {
	actionsFlushed.WithLabelValues(kind).Inc()
}

// IncRetry counts a transient failure scheduled for retry.
func IncRetry() {
	actionRetries.Inc()
}

// IncFailure counts a terminal action failure.
func IncFailure() {
	actionFailures.Inc()
}

// IncConflict counts a resolved divergence by outcome label.
func IncConflict(outcome string) {
	conflicts.WithLabelValues(outcome).Inc()
}

// SetInFlight flips the in-flight gauge.
func SetInFlight(running bool) {
	if running {
		syncInFlight.Set(1)
	} else {
		syncInFlight.Set(0)
	}
}
