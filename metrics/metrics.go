// Package metrics exposes the daemon's Prometheus collectors, grounded on
// the teacher's monitoring package conventions (a handful of metrics,
// bundled in Collectors and registered once by the caller).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every metric the chat subsystems update. A nil
// *Collectors is valid everywhere it's used: all methods are no-ops on a
// nil receiver, so wiring metrics is optional.
type Collectors struct {
	SessionsActive  prometheus.Gauge
	FetchesServed   prometheus.Counter
	MessagesRouted  *prometheus.CounterVec
	FanOutErrors    *prometheus.CounterVec
	SessionsAborted prometheus.Counter
}

// New constructs a Collectors with freshly created metrics, all under the
// "emberchat" namespace.
func New() *Collectors {
	return &Collectors{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "emberchat",
			Name:      "sessions_active",
			Help:      "Number of currently established sessions.",
		}),
		FetchesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberchat",
			Name:      "fetches_served_total",
			Help:      "Number of bootstrap fetch requests resolved.",
		}),
		MessagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emberchat",
			Name:      "messages_routed_total",
			Help:      "Number of channel messages fanned out to an outbox.",
		}, []string{"channel"}),
		FanOutErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emberchat",
			Name:      "fan_out_errors_total",
			Help:      "Number of per-outbox fan-out failures.",
		}, []string{"channel"}),
		SessionsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberchat",
			Name:      "sessions_aborted_total",
			Help:      "Number of sessions that have aborted.",
		}),
	}
}

// Register adds every collector to reg.
func (c *Collectors) Register(reg *prometheus.Registry) {
	if c == nil {
		return
	}
	reg.MustRegister(c.SessionsActive, c.FetchesServed, c.MessagesRouted, c.FanOutErrors, c.SessionsAborted)
}

// SessionStarted records a newly established session. Safe to call on a
// nil *Collectors.
func (c *Collectors) SessionStarted() {
	if c == nil {
		return
	}
	c.SessionsActive.Inc()
}

// SessionAborted records a session tearing down. Safe to call on a nil
// *Collectors.
func (c *Collectors) SessionAborted() {
	if c == nil {
		return
	}
	c.SessionsActive.Dec()
	c.SessionsAborted.Inc()
}

// FetchServed records one resolved bootstrap fetch. Safe to call on a nil
// *Collectors.
func (c *Collectors) FetchServed() {
	if c == nil {
		return
	}
	c.FetchesServed.Inc()
}

// MessageRouted records one successful per-outbox delivery on channel.
// Safe to call on a nil *Collectors.
func (c *Collectors) MessageRouted(channel string) {
	if c == nil {
		return
	}
	c.MessagesRouted.WithLabelValues(channel).Inc()
}

// FanOutError records one failed per-outbox delivery on channel. Safe to
// call on a nil *Collectors.
func (c *Collectors) FanOutError(channel string) {
	if c == nil {
		return
	}
	c.FanOutErrors.WithLabelValues(channel).Inc()
}
