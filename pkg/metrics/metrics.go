// Package metrics provides Prometheus instrumentation for the messaging service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"swapmarket/pkg/errors"
)

var (
	// OperationsTotal counts messaging operations by outcome code.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_operations_total",
			Help: "Messaging operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// OperationDuration tracks how long messaging operations take, store round-trips included.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_operation_duration_seconds",
			Help:    "Messaging operation duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// ActiveSubscriptions tracks live queries currently held open.
	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "messaging_active_subscriptions",
			Help: "Number of open live subscriptions",
		},
		[]string{"kind"},
	)

	// WebSocketConnections tracks connected socket clients.
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	// RequestsTotal tracks HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveOperation records duration and outcome of one operation.
func ObserveOperation(operation string, start time.Time, err error) {
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	OperationsTotal.WithLabelValues(operation, Outcome(err)).Inc()
}

// Outcome maps err to a low-cardinality label value.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, code := range []string{
		errors.CodeUnauthenticated,
		errors.CodeNotFound,
		errors.CodeInvariantViolation,
		errors.CodeStoreError,
	} {
		if errors.Is(err, code) {
			return code
		}
	}
	return "error"
}
