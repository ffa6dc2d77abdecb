// Package metrics exposes the worker's Prometheus collectors. A worker is a
// short-lived job, so collectors live on a private registry that is pushed to a
// Pushgateway once the trade ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

type Metrics struct {
	registry *prometheus.Registry

	OrdersPlaced     *prometheus.CounterVec
	OrdersCancelled  prometheus.Counter
	TransientRetries *prometheus.CounterVec
	PhaseEntries     *prometheus.CounterVec
	TickLatency      *prometheus.HistogramVec
	Outcomes         *prometheus.CounterVec
	RealizedProfit   prometheus.Gauge
	TradeDuration    prometheus.Histogram
}

// New registers all collectors. All methods are safe on a nil *Metrics.
func New(namespace, app string) *Metrics {
	if namespace == "" {
		namespace = "trade_worker"
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	labels := prometheus.Labels{"app": app}

	return &Metrics{
		registry: reg,
		OrdersPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "orders_placed_total",
			Help:        "Orders placed, by side, type and reason.",
			ConstLabels: labels,
		}, []string{"side", "type", "reason"}),
		OrdersCancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "orders_cancelled_total",
			Help:        "Sell orders confirmed cancelled.",
			ConstLabels: labels,
		}),
		TransientRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "transient_retries_total",
			Help:        "Gateway calls retried after a transient error, by operation.",
			ConstLabels: labels,
		}, []string{"op"}),
		PhaseEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "phase_entries_total",
			Help:        "Phase transitions, by phase entered.",
			ConstLabels: labels,
		}, []string{"phase"}),
		TickLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "tick_latency_seconds",
			Help:        "Latency of one supervision tick (order and book reads).",
			ConstLabels: labels,
			Buckets:     []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"phase"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "outcomes_total",
			Help:        "Resolved trades, by sell type.",
			ConstLabels: labels,
		}, []string{"sell_type"}),
		RealizedProfit: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "realized_profit",
			Help:        "Fee-adjusted profit of the trade in quote currency.",
			ConstLabels: labels,
		}),
		TradeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "trade_duration_seconds",
			Help:        "Time from worker start to resolution.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(30, 2, 10),
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) OrderPlaced(side, orderType, reason string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(side, orderType, reason).Inc()
}

func (m *Metrics) OrderCancelled() {
	if m == nil {
		return
	}
	m.OrdersCancelled.Inc()
}

func (m *Metrics) TransientRetry(op string) {
	if m == nil {
		return
	}
	m.TransientRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) PhaseEntered(phase string) {
	if m == nil {
		return
	}
	m.PhaseEntries.WithLabelValues(phase).Inc()
}

func (m *Metrics) ObserveTick(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.TickLatency.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) TradeResolved(sellType string, profit float64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(sellType).Inc()
	m.RealizedProfit.Set(profit)
	m.TradeDuration.Observe(elapsed.Seconds())
}

// Push sends the registry to a Pushgateway under the given job and instance.
func (m *Metrics) Push(ctx context.Context, url, job, instance string) error {
	if m == nil || url == "" {
		return nil
	}
	pusher := push.New(url, job).Gatherer(m.registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
