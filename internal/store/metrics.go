package store

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts and times executed statements. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	statements *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the store collectors and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parlapi",
			Subsystem: "store",
			Name:      "statements_total",
			Help:      "Statements executed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "parlapi",
			Subsystem: "store",
			Name:      "statement_duration_seconds",
			Help:      "Statement latency, by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.statements, m.duration)
	}
	return m
}

func (m *Metrics) observe(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.statements.WithLabelValues(kind, outcome(err)).Inc()
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var qe *QueryError
	if errors.As(err, &qe) && qe.Client {
		return "client_error"
	}
	return "server_error"
}
