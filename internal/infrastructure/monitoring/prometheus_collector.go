package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	sessionsActive   *prometheus.GaugeVec
	sessionsTotal    *prometheus.CounterVec
	sessionsFailed   *prometheus.CounterVec
	candidateRelayed *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec

	negotiationDuration *prometheus.HistogramVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardlink_sessions_active",
			Help: "Number of signaling sessions currently active",
		}, []string{"role"}),

		sessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guardlink_sessions_total",
			Help: "Total number of signaling sessions started",
		}, []string{"role"}),

		sessionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guardlink_sessions_failed_total",
			Help: "Total number of sessions that ended in failure",
		}, []string{"role", "code"}),

		candidateRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guardlink_ice_candidates_relayed_total",
			Help: "Total number of ICE candidates relayed through the channel",
		}, []string{"direction"}),

		stateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guardlink_session_state_transitions_total",
			Help: "Total number of session state transitions",
		}, []string{"role", "state"}),

		negotiationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guardlink_negotiation_duration_seconds",
			Help:    "Time from session start until the transport connected",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"role"}),
	}
}

func (p *PrometheusCollector) SessionStarted(role string) {
	p.sessionsActive.WithLabelValues(role).Inc()
	p.sessionsTotal.WithLabelValues(role).Inc()
}

func (p *PrometheusCollector) SessionEnded(role string) {
	p.sessionsActive.WithLabelValues(role).Dec()
}

func (p *PrometheusCollector) SessionFailed(role string, code string) {
	p.sessionsActive.WithLabelValues(role).Dec()
	p.sessionsFailed.WithLabelValues(role, code).Inc()
}

func (p *PrometheusCollector) NegotiationCompleted(role string, elapsed time.Duration) {
	p.negotiationDuration.WithLabelValues(role).Observe(elapsed.Seconds())
}

func (p *PrometheusCollector) CandidateRelayed(direction string) {
	p.candidateRelayed.WithLabelValues(direction).Inc()
}

func (p *PrometheusCollector) StateTransition(role string, state string) {
	p.stateTransitions.WithLabelValues(role, state).Inc()
}
