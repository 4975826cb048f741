// Package observability exposes Prometheus instrumentation for the server
// core. Collectors here count core operations rather than HTTP traffic; the
// labels are chosen to keep cardinality bounded (operation kind and a small
// closed set of outcomes) while remaining actionable in dashboards.
//
// All collectors are safe for concurrent use and registered once at package
// initialization.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// MutationsTotal counts handled mutating calls by operation kind and
	// outcome ("ok", "conflict", "forbidden", ...).
	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "core_mutations_total",
			Help: "Total number of handled mutating calls.",
		},
		[]string{"op", "outcome"},
	)

	// EventsAppended counts ledger entries successfully appended.
	EventsAppended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "core_ledger_events_appended_total",
			Help: "Total number of events appended to the ledger.",
		},
	)

	// IdempotencyReplays counts mutating calls served from the idempotency
	// cache instead of being re-executed.
	IdempotencyReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "core_idempotency_replays_total",
			Help: "Total number of mutating calls answered from the idempotency cache.",
		},
	)

	// AuthFailures counts credential validations that failed (malformed,
	// revoked, or signed with a stale secret).
	AuthFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "core_auth_failures_total",
			Help: "Total number of failed credential validations.",
		},
	)

	// ProjectionRebuilds counts full projection rebuilds from the ledger.
	ProjectionRebuilds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "core_projection_rebuilds_total",
			Help: "Total number of full projection rebuilds.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MutationsTotal,
		EventsAppended,
		IdempotencyReplays,
		AuthFailures,
		ProjectionRebuilds,
	)
}
