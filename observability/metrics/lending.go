// Package metrics exposes Prometheus instrumentation for the lending daemon.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics aggregates the counters and gauges tracked across the money
// market and the credit manager.
type LendingMetrics struct {
	operations     *prometheus.CounterVec
	operationFails *prometheus.CounterVec
	liquidations   prometheus.Counter
	accountActions *prometheus.CounterVec
	utilization    *prometheus.GaugeVec
	httpDuration   *prometheus.HistogramVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process-wide metrics registry, registering the
// collectors on first use.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_total",
				Help: "Count of executed money-market operations by type.",
			}, []string{"op"}),
			operationFails: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operation_failures_total",
				Help: "Count of rejected money-market operations by type.",
			}, []string{"op"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_liquidations_total",
				Help: "Count of executed liquidations.",
			}),
			accountActions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "credit_account_actions_total",
				Help: "Count of executed credit account actions by name.",
			}, []string{"action"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_utilization",
				Help: "Current utilization ratio per market.",
			}, []string{"denom"}),
			httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "lending_http_request_seconds",
				Help:    "HTTP request latency by route and status.",
				Buckets: prometheus.DefBuckets,
			}, []string{"route", "status"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.operationFails,
			lendingRegistry.liquidations,
			lendingRegistry.accountActions,
			lendingRegistry.utilization,
			lendingRegistry.httpDuration,
		)
	})
	return lendingRegistry
}

// ObserveOperation records the outcome of one money-market operation.
func (m *LendingMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	op = normalize(op)
	if err != nil {
		m.operationFails.WithLabelValues(op).Inc()
		return
	}
	m.operations.WithLabelValues(op).Inc()
}

// ObserveLiquidation records one executed liquidation.
func (m *LendingMetrics) ObserveLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

// ObserveAccountAction records one executed credit account action.
func (m *LendingMetrics) ObserveAccountAction(action string) {
	if m == nil {
		return
	}
	m.accountActions.WithLabelValues(normalize(action)).Inc()
}

// SetUtilization publishes the current utilization for one market.
func (m *LendingMetrics) SetUtilization(denom string, utilization float64) {
	if m == nil {
		return
	}
	m.utilization.WithLabelValues(normalize(denom)).Set(utilization)
}

// ObserveHTTP records one served request.
func (m *LendingMetrics) ObserveHTTP(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(normalize(route), status).Observe(elapsed.Seconds())
}

func normalize(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "unknown"
	}
	return label
}
