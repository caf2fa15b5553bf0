package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "appointly"

var (
	once sync.Once

	bookingProposals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_proposals_total",
			Help:      "Count of booking and reschedule proposals by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	bookingConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_conflicts_total",
			Help:      "Count of rejected proposals by conflict kind.",
		},
		[]string{"kind"},
	)

	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Count of applied appointment status transitions.",
		},
		[]string{"from", "to"},
	)

	storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Count of appointment store failures by operation.",
		},
		[]string{"op"},
	)

	conflictCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conflict_check_duration_seconds",
			Help:      "Time spent reading and deciding a conflict check.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP API requests by route.",
		},
		[]string{"route"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingProposals, bookingConflicts, statusTransitions,
			storeErrors, conflictCheckDuration, httpRequests)
	})
}

func IncProposal(operation, outcome string) {
	bookingProposals.WithLabelValues(operation, outcome).Inc()
}

func IncConflict(kind string) {
	bookingConflicts.WithLabelValues(kind).Inc()
}

func IncTransition(from, to string) {
	statusTransitions.WithLabelValues(from, to).Inc()
}

func IncStoreError(op string) {
	storeErrors.WithLabelValues(op).Inc()
}

func ObserveConflictCheck(d time.Duration) {
	conflictCheckDuration.Observe(d.Seconds())
}

func IncHTTP(route string) {
	httpRequests.WithLabelValues(route).Inc()
}
