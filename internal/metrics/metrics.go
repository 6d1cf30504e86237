// ABOUTME: Prometheus collectors for the gateway endpoint and presentation shell
// ABOUTME: Nil-safe recording methods so components work without metrics enabled

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ProxyRequests   *prometheus.CounterVec
	UpstreamSeconds prometheus.Histogram
	ProxyBytes      prometheus.Counter
	Interrupts      *prometheus.CounterVec
	Actions         *prometheus.CounterVec
	StateUpdates    *prometheus.CounterVec
	UISubscribers   prometheus.Gauge
}

// New creates collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ProxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coagent_proxy_requests_total",
			Help: "Requests relayed to the remote agent, by upstream status code",
		}, []string{"code"}),
		UpstreamSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coagent_proxy_upstream_seconds",
			Help:    "Time from relaying a request until the upstream stream closed",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ProxyBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coagent_proxy_bytes_total",
			Help: "Response bytes streamed back from the remote agent",
		}),
		Interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coagent_interrupts_total",
			Help: "Interrupts by outcome (raised, approve, reject, discarded)",
		}, []string{"decision"}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coagent_actions_total",
			Help: "Frontend action invocations by action and outcome",
		}, []string{"action", "outcome"}),
		StateUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coagent_state_updates_total",
			Help: "Shared state updates received from the agent",
		}, []string{"agent"}),
		UISubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coagent_ui_subscribers",
			Help: "Currently connected browser event streams",
		}),
	}
	reg.MustRegister(
		m.ProxyRequests,
		m.UpstreamSeconds,
		m.ProxyBytes,
		m.Interrupts,
		m.Actions,
		m.StateUpdates,
		m.UISubscribers,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordProxy(code int, elapsed time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	m.UpstreamSeconds.Observe(elapsed.Seconds())
	m.ProxyBytes.Add(float64(bytes))
}

func (m *Metrics) RecordInterrupt(decision string) {
	if m == nil {
		return
	}
	m.Interrupts.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordAction(action, outcome string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) RecordStateUpdate(agent string) {
	if m == nil {
		return
	}
	m.StateUpdates.WithLabelValues(agent).Inc()
}

func (m *Metrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.UISubscribers.Inc()
}

func (m *Metrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.UISubscribers.Dec()
}
