package observability

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"gigescrow/native/orders"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	orderMetricsOnce sync.Once
	orderRegistry    *OrderMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP API
// activity per route.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gigescrow",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gigescrow",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "gigescrow",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gigescrow",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// OrderMetrics tracks order engine operations and custody accounting.
type OrderMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	dust       *prometheus.GaugeVec
	custody    *prometheus.GaugeVec
	escrowed   *prometheus.GaugeVec
	events     *prometheus.CounterVec
}

// Orders returns the singleton order metrics registry. It satisfies
// orders.Observer.
func Orders() *OrderMetrics {
	orderMetricsOnce.Do(func() {
		orderRegistry = &OrderMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gigescrow",
				Subsystem: "orders",
				Name:      "operations_total",
				Help:      "Count of order operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gigescrow",
				Subsystem: "orders",
				Name:      "errors_total",
				Help:      "Count of failed order operations segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "gigescrow",
				Subsystem: "orders",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for order operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			dust: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "gigescrow",
				Subsystem: "orders",
				Name:      "retained_dust",
				Help:      "Split-settlement rounding remainder retained in custody per currency.",
			}, []string{"currency"}),
			custody: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "gigescrow",
				Subsystem: "custody",
				Name:      "balance",
				Help:      "Custody vault balance per currency at the last reconciliation.",
			}, []string{"currency"}),
			escrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "gigescrow",
				Subsystem: "custody",
				Name:      "escrowed",
				Help:      "Sum of in-progress order prices per currency at the last reconciliation.",
			}, []string{"currency"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gigescrow",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of lifecycle events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			orderRegistry.operations,
			orderRegistry.errors,
			orderRegistry.latency,
			orderRegistry.dust,
			orderRegistry.custody,
			orderRegistry.escrowed,
			orderRegistry.events,
		)
	})
	return orderRegistry
}

var _ orders.Observer = (*OrderMetrics)(nil)

// Observe records the execution metrics for an order operation.
func (m *OrderMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op, errorReason(err)).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDust publishes the retained dust total for currency.
func (m *OrderMetrics) RecordDust(currency common.Address, total *big.Int) {
	if m == nil {
		return
	}
	m.dust.WithLabelValues(currency.Hex()).Set(bigToFloat(total))
}

// RecordCustody publishes the custody balance and escrowed total observed by
// reconciliation.
func (m *OrderMetrics) RecordCustody(currency common.Address, balance, escrowed *big.Int) {
	if m == nil {
		return
	}
	m.custody.WithLabelValues(currency.Hex()).Set(bigToFloat(balance))
	m.escrowed.WithLabelValues(currency.Hex()).Set(bigToFloat(escrowed))
}

// RecordEvent counts an emitted lifecycle event.
func (m *OrderMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.events.WithLabelValues(normalized).Inc()
}

// errorReason maps an error onto a bounded label set so that error messages
// carrying ids and amounts do not explode metric cardinality.
func errorReason(err error) string {
	reasons := []struct {
		target error
		label  string
	}{
		{orders.ErrUnauthorized, "unauthorized"},
		{orders.ErrNotFound, "not_found"},
		{orders.ErrAlreadyAssigned, "already_assigned"},
		{orders.ErrNotInProgress, "not_in_progress"},
		{orders.ErrCancelationForbidden, "cancelation_forbidden"},
		{orders.ErrUnsupportedCurrency, "unsupported_currency"},
		{orders.ErrPaymentMismatch, "payment_mismatch"},
		{orders.ErrTransferFailed, "transfer_failed"},
		{orders.ErrAlreadyPresent, "already_present"},
		{orders.ErrNotPresent, "not_present"},
		{orders.ErrSuspended, "suspended"},
		{orders.ErrRunning, "running"},
		{orders.ErrInvalidArgument, "invalid_argument"},
	}
	for _, r := range reasons {
		if errors.Is(err, r.target) {
			return r.label
		}
	}
	return "internal"
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
