package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "appointment_replication"

// Metrics exposes Prometheus collectors for the replication pipeline, the
// saga log and peer fallback. All methods are safe on a nil receiver.
type Metrics struct {
	eventsPublished   *prometheus.CounterVec
	eventsConsumed    *prometheus.CounterVec
	peerFallbacks     *prometheus.CounterVec
	peerRequests      *prometheus.CounterVec
	sagaSteps         *prometheus.CounterVec
	projectionRebuild *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNewMetrics registers the collectors on reg and panics on duplicate
// registration. Tests should pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events handed to the broker, by type and outcome.",
		}, []string{"type", "outcome"}),
		eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "consumed_total",
			Help:      "Inbound domain events, by type and outcome.",
		}, []string{"type", "outcome"}),
		peerFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "fallback_total",
			Help:      "Peer fallback resolutions, by resource and outcome.",
		}, []string{"resource", "outcome"}),
		peerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "requests_total",
			Help:      "Individual peer read attempts, by peer and outcome.",
		}, []string{"peer", "outcome"}),
		sagaSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "steps_total",
			Help:      "Saga steps recorded or transitioned, by step and status.",
		}, []string{"step", "status"}),
		projectionRebuild: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projection",
			Name:      "rebuilds_total",
			Help:      "Projection rebuilds from the event store, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.eventsPublished,
		m.eventsConsumed,
		m.peerFallbacks,
		m.peerRequests,
		m.sagaSteps,
		m.projectionRebuild,
	)
	return m
}

func (m *Metrics) EventPublished(eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) EventConsumed(eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) PeerFallback(resource, outcome string) {
	if m == nil {
		return
	}
	m.peerFallbacks.WithLabelValues(resource, outcome).Inc()
}

func (m *Metrics) PeerRequest(peer, outcome string) {
	if m == nil {
		return
	}
	m.peerRequests.WithLabelValues(peer, outcome).Inc()
}

func (m *Metrics) SagaStep(step, status string) {
	if m == nil {
		return
	}
	m.sagaSteps.WithLabelValues(step, status).Inc()
}

func (m *Metrics) ProjectionRebuilt(outcome string) {
	if m == nil {
		return
	}
	m.projectionRebuild.WithLabelValues(outcome).Inc()
}
