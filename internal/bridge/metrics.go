package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation results recorded in rime_bridge_operations_total.
const (
	resultOK            = "ok"
	resultRejected      = "rejected"
	resultNoSession     = "no_session"
	resultUnavailable   = "unavailable"
	resultSessionFailed = "session_failed"
	resultEngineLost    = "engine_lost"
)

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	projection    prometheus.Histogram
	sessionActive prometheus.Gauge
}

// NewMetrics registers the bridge collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Labels: operation (bridge op name), result (ok, rejected, no_session, unavailable, session_failed, engine_lost)
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rime",
			Subsystem: "bridge",
			Name:      "operations_total",
			Help:      "Bridge operations by outcome",
		}, []string{"operation", "result"}),

		projection: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rime",
			Subsystem: "bridge",
			Name:      "projection_duration_seconds",
			Help:      "Time to project and serialize a session snapshot",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		sessionActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rime",
			Subsystem: "bridge",
			Name:      "session_active",
			Help:      "1 while the bridge holds an engine session",
		}),
	}
}

func (m *Metrics) observe(op, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) observeProjection(start time.Time) {
	if m == nil {
		return
	}
	m.projection.Observe(time.Since(start).Seconds())
}

func (m *Metrics) setSessionActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.sessionActive.Set(1)
	} else {
		m.sessionActive.Set(0)
	}
}
