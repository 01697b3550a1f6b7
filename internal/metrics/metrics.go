package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avvvet/kana-services/internal/transport"
)

// Metrics holds the Prometheus collectors of the arena agent
type Metrics struct {
	BackendRequests *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
	BackendAttempts *prometheus.CounterVec
	BackendUp       prometheus.Gauge
	EscrowTransfers *prometheus.CounterVec
	MatchesFinished *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg gives unregistered
// collectors, which is what tests want.
func New(subsystem string, reg *prometheus.Registry) *Metrics {
	var factory promauto.Factory
	var gatherer prometheus.Gatherer = prometheus.NewRegistry()
	if reg != nil {
		factory = promauto.With(reg)
		gatherer = reg
	} else {
		factory = promauto.With(nil)
	}

	return &Metrics{
		BackendRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kana",
				Subsystem: subsystem,
				Name:      "backend_requests_total",
				Help:      "Backend requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kana",
				Subsystem: subsystem,
				Name:      "backend_request_duration_seconds",
				Help:      "Backend request duration including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		BackendAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kana",
				Subsystem: subsystem,
				Name:      "backend_attempts_total",
				Help:      "Individual backend attempts, failed ones included",
			},
			[]string{"operation", "result"},
		),
		BackendUp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "kana",
				Subsystem: subsystem,
				Name:      "backend_up",
				Help:      "1 when the last tournament backend probe succeeded",
			},
		),
		EscrowTransfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kana",
				Subsystem: subsystem,
				Name:      "escrow_transfers_total",
				Help:      "Token transfers to the tournament escrow",
			},
			[]string{"kind", "status"},
		),
		MatchesFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kana",
				Subsystem: subsystem,
				Name:      "matches_finished_total",
				Help:      "Quiz matches run to completion",
			},
			[]string{"reason"},
		),
		gatherer: gatherer,
	}
}

func (m *Metrics) ObserveAttempt(operation string, attempt int, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.BackendAttempts.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) ObserveRequest(operation string, status int, err error, elapsed time.Duration) {
	m.BackendDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	m.BackendRequests.WithLabelValues(operation, outcome(status, err)).Inc()
}

func (m *Metrics) SetBackendUp(up bool) {
	if up {
		m.BackendUp.Set(1)
		return
	}
	m.BackendUp.Set(0)
}

// ObserveEscrow counts one escrow transfer outcome. Safe on a nil Metrics.
func (m *Metrics) ObserveEscrow(kind, status string) {
	if m == nil {
		return
	}
	m.EscrowTransfers.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveMatch(reason string) {
	if m == nil {
		return
	}
	m.MatchesFinished.WithLabelValues(reason).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func outcome(status int, err error) string {
	switch {
	case errors.Is(err, transport.ErrTimeout):
		return "timeout"
	case errors.Is(err, transport.ErrConnectionRefused):
		return "refused"
	case err != nil:
		return "network"
	}
	return strconv.Itoa(status)
}
