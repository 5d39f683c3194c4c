// Package prommetrics provides a Prometheus implementation of the
// x402.Metrics interface.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements x402.Metrics using Prometheus.
type Metrics struct {
	verificationsTotal   *prometheus.CounterVec
	verifyDuration       prometheus.Histogram
	grantsTotal          *prometheus.CounterVec
	paymentRequiredTotal *prometheus.CounterVec
	chainLookupsTotal    *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		verificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verifications_total",
			Help:      "Total number of payment verifications by mode and outcome.",
		}, []string{"mode", "outcome"}),

		verifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_verify_duration_seconds",
			Help:      "Latency of payment verification including chain-lookup retries.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2, 4, 8},
		}),

		grantsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_grants_total",
			Help:      "Total number of requests granted by the payment gate.",
		}, []string{"method"}),

		paymentRequiredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_required_total",
			Help:      "Total number of 402 responses emitted by the payment gate.",
		}, []string{"reason"}),

		chainLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_lookups_total",
			Help:      "Total number of settlement-ledger lookup attempts.",
		}, []string{"outcome"}),
	}
}

// NewDefaultMetrics creates metrics registered with the default registry.
func NewDefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

func (m *Metrics) RecordVerification(mode, outcome string) {
	m.verificationsTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) RecordVerifyDuration(duration time.Duration) {
	m.verifyDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordGrant(method string) {
	m.grantsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) RecordPaymentRequired(reason string) {
	m.paymentRequiredTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordChainLookup(outcome string) {
	m.chainLookupsTotal.WithLabelValues(outcome).Inc()
}
