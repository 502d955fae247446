// Package monitor exposes the engine's operational surface: Prometheus
// metrics and a small HTTP server for status and health checks.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the instruments the engine updates while it runs.
// Counters track flow, gauges track the current risk picture.
type Metrics struct {
	EventsReceived    *prometheus.CounterVec
	ProposalsAdmitted prometheus.Counter
	ProposalsRejected *prometheus.CounterVec
	LifecycleActions  *prometheus.CounterVec
	VenueErrors       prometheus.Counter

	Equity           prometheus.Gauge
	OpenRisk         prometheus.Gauge
	RemainingDaily   prometheus.Gauge
	RemainingOverall prometheus.Gauge
	OpenPositions    prometheus.Gauge
}

// NewMetrics registers the engine's instruments on reg and returns them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "copyrisk_events_received_total",
			Help: "Master events received from the bridge, by kind.",
		}, []string{"kind"}),
		ProposalsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "copyrisk_proposals_admitted_total",
			Help: "Trade proposals admitted and sent to the venue.",
		}),
		ProposalsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "copyrisk_proposals_rejected_total",
			Help: "Trade proposals rejected before reaching the venue, by reason.",
		}, []string{"reason"}),
		LifecycleActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "copyrisk_lifecycle_actions_total",
			Help: "Lifecycle actions applied to open positions, by action.",
		}, []string{"action"}),
		VenueErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "copyrisk_venue_errors_total",
			Help: "Venue calls that returned an error.",
		}),
		Equity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "copyrisk_account_equity",
			Help: "Account equity from the last snapshot.",
		}),
		OpenRisk: factory.NewGauge(prometheus.GaugeOpts{
			Name: "copyrisk_open_risk",
			Help: "Total stop-out risk of open positions plus pending reservations.",
		}),
		RemainingDaily: factory.NewGauge(prometheus.GaugeOpts{
			Name: "copyrisk_remaining_daily_budget",
			Help: "Remaining daily loss budget.",
		}),
		RemainingOverall: factory.NewGauge(prometheus.GaugeOpts{
			Name: "copyrisk_remaining_overall_budget",
			Help: "Remaining distance to the overall equity floor.",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "copyrisk_open_positions",
			Help: "Number of open managed positions.",
		}),
	}
}
