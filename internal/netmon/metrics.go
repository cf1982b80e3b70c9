package netmon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	phaseDump = "dump"
	phaseLive = "live"

	reasonIgnored   = "ignored"
	reasonLoopback  = "loopback"
	reasonMalformed = "malformed"
	reasonNoName    = "no_name"
	reasonFiltered  = "filtered"
	reasonUnknown   = "unknown_interface"
)

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	messages        *prometheus.CounterVec
	skipped         *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	reprobeFailures prometheus.Counter
	interfaces      prometheus.Gauge
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netplugd",
			Subsystem: "engine",
			Name:      "messages_total",
			Help:      "Link messages handled, by phase",
		}, []string{"phase"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netplugd",
			Subsystem: "engine",
			Name:      "skipped_total",
			Help:      "Link messages skipped before transition evaluation, by reason",
		}, []string{"reason"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netplugd",
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Hook and reprobe decisions taken",
		}, []string{"type"}),
		reprobeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "netplugd",
			Subsystem: "engine",
			Name:      "reprobe_failures_total",
			Help:      "Reprobe attempts that failed",
		}),
		interfaces: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "netplugd",
			Subsystem: "registry",
			Name:      "interfaces",
			Help:      "Interfaces known to the registry",
		}),
	}
}
