// Package metrics exposes relay activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/bhandras/delight/relay/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// outcomeOK labels executions that returned a result.
const outcomeOK = "ok"

// Metrics holds the relay collectors. Each instance owns its registry so
// several relays (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsOpened   *prometheus.CounterVec
	SessionsClosed   *prometheus.CounterVec
	RequestsCanceled prometheus.Counter

	Executions      *prometheus.CounterVec
	ExecuteDuration *prometheus.HistogramVec
	startTime       time.Time
}

var _ relay.Observer = (*Metrics)(nil)

// New creates the collectors. pending, when non-nil, is sampled on every
// scrape for the in-flight request gauge.
func New(pending func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected agent sessions",
		}),
		SessionsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Total number of agent sessions opened",
		}, []string{"transport"}),
		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of agent sessions closed",
		}, []string{"reason"}),
		RequestsCanceled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_cancelled_on_close_total",
			Help:      "Pending requests rejected because their session closed",
		}),
		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of relay executions by outcome",
		}, []string{"outcome"}),
		ExecuteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execute_duration_seconds",
			Help:      "Relay execution latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Relay uptime in seconds",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	if pending != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_pending",
			Help:      "Number of requests awaiting an agent result",
		}, func() float64 { return float64(pending()) })
	}

	return m
}

// SessionOpened implements relay.Observer.
func (m *Metrics) SessionOpened(s relay.Session) {
	m.SessionsActive.Inc()
	m.SessionsOpened.WithLabelValues(s.Transport).Inc()
}

// SessionClosed implements relay.Observer.
func (m *Metrics) SessionClosed(_ relay.Session, reason relay.CloseReason, cancelled int) {
	m.SessionsActive.Dec()
	m.SessionsClosed.WithLabelValues(string(reason)).Inc()
	m.RequestsCanceled.Add(float64(cancelled))
}

// ExecuteFinished implements relay.Observer.
func (m *Metrics) ExecuteFinished(_ string, kind relay.Kind, d time.Duration) {
	outcome := string(kind)
	if outcome == "" {
		outcome = outcomeOK
	}
	m.Executions.WithLabelValues(outcome).Inc()
	m.ExecuteDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
