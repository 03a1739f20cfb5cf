package monitoring

import (
	"net/http"
	"time"

	"sfulink/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector records session lifecycle metrics on its own registry
type PrometheusCollector struct {
	registry *prometheus.Registry

	// Gauges
	sessions        *prometheus.GaugeVec
	qualityTier     prometheus.Gauge
	connectionLevel prometheus.Gauge
	queuedMessages  prometheus.Gauge

	// Counters
	transitions   *prometheus.CounterVec
	reconnects    prometheus.Counter
	notifications *prometheus.CounterVec
	iceBuffered   *prometheus.CounterVec

	// Histograms
	negotiationDuration *prometheus.HistogramVec
	reconnectDelay      prometheus.Histogram
	signalingRTT        prometheus.Histogram
}

func NewPrometheusCollector(namespace string) *PrometheusCollector {
	if namespace == "" {
		namespace = "sfulink"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		sessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of live sessions by role and state",
		}, []string{"role", "state"}),

		qualityTier: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quality_tier",
			Help:      "Active publisher quality tier (0 = original profiles)",
		}),

		connectionLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_level",
			Help:      "Signaling connection level (0 normal, 1 warning, 2 danger, 3 critical)",
		}),

		queuedMessages: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signaling_queued_messages",
			Help:      "Messages waiting for the signaling channel to open",
		}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions",
		}, []string{"role", "from", "to"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnection timers armed",
		}),

		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "User-visible notifications by error kind",
		}, []string{"kind"}),

		iceBuffered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ice_candidates_buffered_total",
			Help:      "ICE candidates held until the answer was applied",
		}, []string{"direction"}),

		negotiationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_duration_seconds",
			Help:      "Time from start to flowing media",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"role"}),

		reconnectDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Delay of armed reconnection timers",
			Buckets:   []float64{1, 5, 15, 30, 60, 120},
		}),

		signalingRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signaling_rtt_seconds",
			Help:      "Signaling ping round trip time",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
	}
}

// Registry exposes the private registry
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the exposition format
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// SessionTransition moves a session between state gauges. Sessions are
// created in NEW without a transition and leave the registry on CLOSED.
func (p *PrometheusCollector) SessionTransition(role domain.Role, from, to domain.SessionState) {
	p.transitions.WithLabelValues(string(role), from.String(), to.String()).Inc()
	if from != domain.StateNew {
		p.sessions.WithLabelValues(string(role), from.String()).Dec()
	}
	if to != domain.StateClosed {
		p.sessions.WithLabelValues(string(role), to.String()).Inc()
	}
}

func (p *PrometheusCollector) ReconnectScheduled(_ domain.StreamID, delay time.Duration) {
	p.reconnects.Inc()
	p.reconnectDelay.Observe(delay.Seconds())
}

func (p *PrometheusCollector) NegotiationCompleted(role domain.Role, d time.Duration) {
	p.negotiationDuration.WithLabelValues(string(role)).Observe(d.Seconds())
}

func (p *PrometheusCollector) NotificationRaised(kind string) {
	p.notifications.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) ICECandidateBuffered(direction string) {
	p.iceBuffered.WithLabelValues(direction).Inc()
}

func (p *PrometheusCollector) QualityTierChanged(tier int) {
	p.qualityTier.Set(float64(tier))
}

func (p *PrometheusCollector) ObserveRTT(rtt time.Duration) {
	p.signalingRTT.Observe(rtt.Seconds())
}

func (p *PrometheusCollector) ConnectionLevelChanged(level domain.ConnectionLevel) {
	p.connectionLevel.Set(float64(level))
}

func (p *PrometheusCollector) QueuedMessages(n int) {
	p.queuedMessages.Set(float64(n))
}
