package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "brigadeboard"

// Metrics groups the client's collectors. All methods are safe on a nil
// receiver so components can run without instrumentation.
type Metrics struct {
	connPhase        *prometheus.GaugeVec
	reconnects       prometheus.Counter
	fallbacks        prometheus.Counter
	inbound          *prometheus.CounterVec
	refreshCycles    prometheus.Counter
	refreshCoalesced prometheus.Counter
	refreshDeferred  prometheus.Counter
	panelFetch       *prometheus.HistogramVec
	panelErrors      *prometheus.CounterVec
	effects          *prometheus.CounterVec
	commands         *prometheus.CounterVec
	timerExpired     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connPhase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_phase",
			Help:      "1 for the current live-channel phase, 0 otherwise.",
		}, []string{"phase"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Socket reconnection attempts scheduled.",
		}),
		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_activations_total",
			Help:      "Switches to the one-way event stream.",
		}),
		inbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound push envelopes by type.",
		}, []string{"type"}),
		refreshCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "Completed refresh cycles.",
		}),
		refreshCoalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_coalesced_total",
			Help:      "Refresh requests folded into a trailing cycle.",
		}),
		refreshDeferred: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_deferred_total",
			Help:      "Refresh requests deferred by an active drag.",
		}),
		panelFetch: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "panel_fetch_seconds",
			Help:      "Panel fetch latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"panel"}),
		panelErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panel_fetch_errors_total",
			Help:      "Failed panel fetches.",
		}, []string{"panel"}),
		effects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effects_total",
			Help:      "Best-effort side effects by outcome.",
		}, []string{"name", "result"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_commands_total",
			Help:      "Unit lifecycle operations by outcome.",
		}, []string{"op", "result"}),
		timerExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_expirations_total",
			Help:      "Unit timers that reached zero.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) SetPhase(phase string, all []string) {
	if m == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.connPhase.WithLabelValues(p).Set(v)
	}
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) Inbound(msgType string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(msgType).Inc()
}

func (m *Metrics) RefreshCycle() {
	if m == nil {
		return
	}
	m.refreshCycles.Inc()
}

func (m *Metrics) RefreshCoalesced() {
	if m == nil {
		return
	}
	m.refreshCoalesced.Inc()
}

func (m *Metrics) RefreshDeferred() {
	if m == nil {
		return
	}
	m.refreshDeferred.Inc()
}

func (m *Metrics) PanelFetch(panel string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.panelFetch.WithLabelValues(panel).Observe(took.Seconds())
	if err != nil {
		m.panelErrors.WithLabelValues(panel).Inc()
	}
}

func (m *Metrics) Effect(name string, result string) {
	if m == nil {
		return
	}
	m.effects.WithLabelValues(name, result).Inc()
}

func (m *Metrics) Command(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(op, result).Inc()
}

func (m *Metrics) TimerExpired() {
	if m == nil {
		return
	}
	m.timerExpired.Inc()
}
