// Package metrics exposes client activity as prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"honeyworks/hive-client/internal/conductor"
)

const namespace = "hive_client"

// Client is safe to use as a nil pointer; every method is then a no-op.
type Client struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	signals  *prometheus.CounterVec
	renders  prometheus.Counter
	triggers *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Client {
	c := &Client{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conductor_requests_total",
			Help:      "Conductor requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conductor_request_duration_seconds",
			Help:      "Conductor request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"op"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals received from the conductor, by kind and whether they were dropped.",
		}, []string{"kind", "dropped"}),
		renders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Digest renders written to the display.",
		}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "User triggered refreshes by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(c.requests, c.latency, c.signals, c.renders, c.triggers)
	}
	return c
}

func (c *Client) ObserveRequest(op string, started time.Time, err error) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(op, conductor.Outcome(err)).Inc()
	c.latency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (c *Client) ObserveSignal(kind string, dropped bool) {
	if c == nil {
		return
	}
	d := "false"
	if dropped {
		d = "true"
	}
	c.signals.WithLabelValues(kind, d).Inc()
}

func (c *Client) ObserveRender() {
	if c == nil {
		return
	}
	c.renders.Inc()
}

func (c *Client) ObserveTrigger(outcome string) {
	if c == nil {
		return
	}
	c.triggers.WithLabelValues(outcome).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
