// Package prommetrics provides a Prometheus implementation of the
// credits.Metrics interface.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements credits.Metrics using Prometheus.
type Metrics struct {
	purchasesTotal     *prometheus.CounterVec
	purchasedPlays     prometheus.Counter
	creditUseTotal     *prometheus.CounterVec
	storageOpsDuration *prometheus.HistogramVec
	storageOpsErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		purchasesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_purchases_total",
			Help:      "Total number of credit purchase submissions.",
		}, []string{"duplicate"}),

		purchasedPlays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_purchased_plays_total",
			Help:      "Total number of plays credited to accounts.",
		}),

		creditUseTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_use_total",
			Help:      "Total number of credit consumption attempts.",
		}, []string{"outcome"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credit_storage_operation_duration_seconds",
			Help:      "Latency of credit store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_storage_operation_errors_total",
			Help:      "Total number of credit store operation errors.",
		}, []string{"operation"}),
	}
}

// NewDefaultMetrics creates metrics registered with the default registry.
func NewDefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

func (m *Metrics) RecordPurchase(numberOfPlays int, duplicate bool) {
	label := "false"
	if duplicate {
		label = "true"
	}
	m.purchasesTotal.WithLabelValues(label).Inc()
	if !duplicate {
		m.purchasedPlays.Add(float64(numberOfPlays))
	}
}

func (m *Metrics) RecordCreditUse(outcome string) {
	m.creditUseTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordStorageOp(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}
