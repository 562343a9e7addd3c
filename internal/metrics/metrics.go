// Package metrics declares the Prometheus collectors this module exposes,
// grounded on the retrieval pack's habit of wiring client_golang directly
// into a network subsystem's hot paths rather than behind a facade.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ActiveConnections is the current count of connections in the
	// manager, labeled by state so Connected/Suspended/Handshake residency
	// is visible without scraping logs.
	ActiveConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rudp",
		Name:      "active_connections",
		Help:      "Number of connections currently tracked by the manager, by state.",
	}, []string{"state"})

	// InFlightHandshakes is the atomic counter the listener's cookie
	// threshold (spec.md §4.7, §4.9) is compared against.
	InFlightHandshakes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rudp",
		Name:      "inflight_handshakes",
		Help:      "Number of inbound connections currently in the Handshake state.",
	})

	// Retransmissions counts send-queue retransmissions across all
	// connections, a proxy for path loss.
	Retransmissions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "retransmissions_total",
		Help:      "Total send-queue entries retransmitted.",
	})

	// MTUDiscoveries counts MTU discovery runs reaching a terminal phase,
	// labeled by outcome.
	MTUDiscoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "mtu_discoveries_total",
		Help:      "Completed MTU discovery runs, by outcome (finished/failed).",
	}, []string{"outcome"})

	// CookieChallenges counts SYN attempts answered with a Cookie reply
	// instead of being accepted outright.
	CookieChallenges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "cookie_challenges_total",
		Help:      "SYNs answered with a Cookie challenge under load.",
	})

	// AcceptedConnections counts inbound connections handed to the
	// manager, labeled by whether a cookie was required.
	AcceptedConnections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "accepted_connections_total",
		Help:      "Inbound connections accepted by the listener.",
	}, []string{"cookie_verified"})

	// ReputationPenalties counts access-manager penalties applied, by
	// severity, giving an attack-traffic signal independent of logs.
	ReputationPenalties = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "reputation_penalties_total",
		Help:      "Reputation penalties applied to source IPs, by severity.",
	}, []string{"severity"})
)

// Registry is a dedicated registry (rather than prometheus.DefaultRegisterer)
// so embedding applications can mount it on their own exposition path
// without colliding with metrics they already register.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		ActiveConnections,
		InFlightHandshakes,
		Retransmissions,
		MTUDiscoveries,
		CookieChallenges,
		AcceptedConnections,
		ReputationPenalties,
	)
}
