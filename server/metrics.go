package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsNamespace prefixes every collector.
const MetricsNamespace = "webserv"

// Metrics are the collectors updated by the loop.
type Metrics struct {
	Requests     *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	Connections  prometheus.Gauge
	Accepted     prometheus.Counter
	BytesSent    prometheus.Counter
	CGIProcesses prometheus.Gauge
	CGIOutcomes  *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Use a fresh registry per server.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "requests_total",
			Help:      "Requests handled, by method and response code",
		}, []string{"method", "code"}),

		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent producing a response inside the loop",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "open_connections",
			Help:      "Client connections currently open",
		}),

		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "accepted_connections_total",
			Help:      "Client connections accepted",
		}),

		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "sent_bytes_total",
			Help:      "Bytes written to client sockets",
		}),

		CGIProcesses: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "cgi",
			Name:      "processes",
			Help:      "CGI processes currently attached to the loop",
		}),

		CGIOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "cgi",
			Name:      "outcomes_total",
			Help:      "CGI processes that ended, by outcome",
		}, []string{"outcome"}),
	}
}
