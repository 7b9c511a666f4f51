// Package metrics holds the Prometheus collectors of one worker node.
//
// Collectors are registered on the Registerer handed to New rather than the
// global default registry, so several nodes can live in one process and tests
// get a clean slate.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "worknode"

type Metrics struct {
	RequestsReceived *prometheus.CounterVec
	RepliesSent      *prometheus.CounterVec
	ReplyErrors      *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	WorkDuration     *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	Unavailable      *prometheus.CounterVec

	HeartbeatsSent     prometheus.Counter
	HeartbeatsRecorded prometheus.Counter
	HeartbeatsDropped  prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the node's collectors and registers them on reg. A nil reg gets
// a fresh registry with the Go and process collectors.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{
		RequestsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_received_total",
			Help:      "Work requests decoded by a dispatcher",
		}, []string{"listener", "kind"}),
		RepliesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_sent_total",
			Help:      "Replies published, by status",
		}, []string{"listener", "status"}),
		ReplyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_publish_errors_total",
			Help:      "Replies that could not be published",
		}, []string{"listener"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound messages dropped because they could not be decoded",
		}, []string{"listener"}),
		WorkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "work_duration_seconds",
			Help:      "Strategy execution time per request",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		}, []string{"listener", "status"}),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Requests currently executing",
		}, []string{"listener"}),
		Unavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "component_unavailable_total",
			Help:      "Unavailable signals raised, by component",
		}, []string{"component"}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "sent_total",
			Help:      "Heartbeats published by this node",
		}),
		HeartbeatsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "recorded_total",
			Help:      "Heartbeats stored by the monitor",
		}),
		HeartbeatsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "dropped_total",
			Help:      "Messages on the heartbeat topic that were not heartbeats",
		}),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{
		m.RequestsReceived, m.RepliesSent, m.ReplyErrors, m.DecodeErrors,
		m.WorkDuration, m.InFlight, m.Unavailable,
		m.HeartbeatsSent, m.HeartbeatsRecorded, m.HeartbeatsDropped,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveUnavailable matches failure.WithObserver.
func (m *Metrics) ObserveUnavailable(component string) {
	m.Unavailable.WithLabelValues(component).Inc()
}
