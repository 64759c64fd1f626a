package metrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"paygate/core/events"
	"paygate/core/types"
	"paygate/native/gateway"
)

// GatewayMetrics tracks transaction throughput, settled volume and API
// activity of the payment gateway node.
type GatewayMetrics struct {
	transactions *prometheus.CounterVec
	txLatency    *prometheus.HistogramVec
	events       *prometheus.CounterVec
	volume       *prometheus.CounterVec
	fees         *prometheus.CounterVec
	requests     *prometheus.CounterVec
	reqLatency   *prometheus.HistogramVec
	throttles    *prometheus.CounterVec
}

var (
	gatewayOnce     sync.Once
	gatewayRegistry *GatewayMetrics
)

// Gateway returns the lazily registered gateway metrics.
func Gateway() *GatewayMetrics {
	gatewayOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygate",
				Subsystem: "runtime",
				Name:      "transactions_total",
				Help:      "Applied transactions segmented by instruction and outcome.",
			}, []string{"type", "outcome"}),
			txLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "paygate",
				Subsystem: "runtime",
				Name:      "transaction_duration_seconds",
				Help:      "Latency distribution of transaction execution.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"type"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygate",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Committed events segmented by type.",
			}, []string{"type"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygate",
				Subsystem: "payments",
				Name:      "volume_base_units_total",
				Help:      "Settled payment volume in base units segmented by currency.",
			}, []string{"currency"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygate",
				Subsystem: "payments",
				Name:      "fees_base_units_total",
				Help:      "Platform fees withheld in base units segmented by currency.",
			}, []string{"currency"}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygate",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "HTTP API requests segmented by route and status code.",
			}, []string{"route", "status"}),
			reqLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "paygate",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paygate",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.transactions,
			gatewayRegistry.txLatency,
			gatewayRegistry.events,
			gatewayRegistry.volume,
			gatewayRegistry.fees,
			gatewayRegistry.requests,
			gatewayRegistry.reqLatency,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// ObserveTransaction records the outcome of a single transaction.
func (m *GatewayMetrics) ObserveTransaction(txType string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if txType == "" {
		txType = "unknown"
	}
	m.transactions.WithLabelValues(txType, outcome(err)).Inc()
	m.txLatency.WithLabelValues(txType).Observe(duration.Seconds())
}

// ObserveRequest records an HTTP API request.
func (m *GatewayMetrics) ObserveRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.reqLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle counts a request rejected by rate limiting.
func (m *GatewayMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

// Emit implements events.Emitter so the registry can observe committed events
// directly. Completed intents contribute to volume and fee counters.
func (m *GatewayMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.events.WithLabelValues(evt.EventType()).Inc()
	if evt.EventType() != gateway.EventTypeIntentCompleted {
		return
	}
	rendered := types.Rendered(evt)
	if rendered == nil {
		return
	}
	currency := rendered.Attributes["currencyMint"]
	if currency == "" {
		currency = "native"
	}
	if amount, ok := rendered.Uint("amount"); ok {
		m.volume.WithLabelValues(currency).Add(float64(amount))
	}
	if fee, ok := rendered.Uint("fee"); ok && fee > 0 {
		m.fees.WithLabelValues(currency).Add(float64(fee))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, gateway.ErrInvalidAmount):
		return "arithmetic"
	default:
		return "failure"
	}
}
