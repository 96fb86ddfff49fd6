// Package metrics exposes the server's counters as prometheus collectors.
package metrics

import (
	"strconv"

	"github.com/indigo-web/reactor/http/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reactor"

// Metrics is shared by all the loops. Every method is safe to call on a nil receiver,
// which is how metrics are disabled.
type Metrics struct {
	accepted     prometheus.Counter
	closed       prometheus.Counter
	active       prometheus.Gauge
	requests     *prometheus.CounterVec
	parseErrors  *prometheus.CounterVec
	bytesRead    prometheus.Counter
	bytesWritten prometheus.Counter
}

// New creates the collectors and registers them in reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Total number of accepted connections",
		}),
		closed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "closed_total",
			Help:      "Total number of closed connections",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of currently open connections",
		}),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of parsed requests",
			},
			[]string{"proto"},
		),
		parseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "parse_errors_total",
				Help:      "Total number of requests rejected by the parser",
			},
			[]string{"code"},
		),
		bytesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "read_bytes_total",
			Help:      "Total bytes received",
		}),
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "net",
			Name:      "written_bytes_total",
			Help:      "Total bytes sent",
		}),
	}
}

func (m *Metrics) Accepted() {
	if m != nil {
		m.accepted.Inc()
		m.active.Inc()
	}
}

func (m *Metrics) Closed() {
	if m != nil {
		m.closed.Inc()
		m.active.Dec()
	}
}

func (m *Metrics) Request(proto string) {
	if m != nil {
		m.requests.WithLabelValues(proto).Inc()
	}
}

func (m *Metrics) ParseError(err error) {
	if m != nil {
		m.parseErrors.WithLabelValues(strconv.Itoa(int(status.CodeOf(err)))).Inc()
	}
}

func (m *Metrics) Read(n int) {
	if m != nil && n > 0 {
		m.bytesRead.Add(float64(n))
	}
}

func (m *Metrics) Written(n int) {
	if m != nil && n > 0 {
		m.bytesWritten.Add(float64(n))
	}
}
