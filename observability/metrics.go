package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	stakingdMetricsOnce sync.Once
	stakingdRegistry    *StakingdMetrics
)

// StakingdMetrics wraps collectors tracking staking engine and API health.
type StakingdMetrics struct {
	operations      *prometheus.CounterVec
	transferLatency *prometheus.HistogramVec
	pending         prometheus.Gauge
	totalStaked     prometheus.Gauge
	invariants      prometheus.Counter
	events          *prometheus.CounterVec

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	pruned    prometheus.Counter
}

// Stakingd exposes the metrics registry for stakingd.
func Stakingd() *StakingdMetrics {
	stakingdMetricsOnce.Do(func() {
		stakingdRegistry = &StakingdMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "stakingd",
				Name:      "operations_total",
				Help:      "Count of staking operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			transferLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakeledger",
				Subsystem: "stakingd",
				Name:      "transfer_duration_seconds",
				Help:      "Latency distribution for token transfer calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind", "outcome"}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakeledger",
				Subsystem: "stakingd",
				Name:      "pending_transactions",
				Help:      "Transactions whose action has not been applied yet.",
			}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakeledger",
				Subsystem: "stakingd",
				Name:      "total_staked",
				Help:      "Total staked balance in token base units.",
			}),
			invariants: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "stakingd",
				Name:      "invariant_violations_total",
				Help:      "Count of accounting invariant violations detected by the engine.",
			}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "stakingd",
				Name:      "events_total",
				Help:      "Count of engine events written to the journal segmented by kind.",
			}, []string{"kind"}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakeledger",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"reason"}),
			pruned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "stakingd",
				Name:      "pruned_transactions_total",
				Help:      "Completed transaction markers removed by housekeeping.",
			}),
		}
		prometheus.MustRegister(
			stakingdRegistry.operations,
			stakingdRegistry.transferLatency,
			stakingdRegistry.pending,
			stakingdRegistry.totalStaked,
			stakingdRegistry.invariants,
			stakingdRegistry.events,
			stakingdRegistry.requests,
			stakingdRegistry.latency,
			stakingdRegistry.throttles,
			stakingdRegistry.pruned,
		)
	})
	return stakingdRegistry
}

// RecordOperation increments the operation counter.
func (m *StakingdMetrics) RecordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(label(operation), label(outcome)).Inc()
}

// ObserveTransfer records the latency of a token transfer call.
func (m *StakingdMetrics) ObserveTransfer(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transferLatency.WithLabelValues(label(kind), label(outcome)).Observe(elapsed.Seconds())
}

// SetPendingTransactions updates the pending transaction gauge.
func (m *StakingdMetrics) SetPendingTransactions(count int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(count))
}

// SetTotalStaked updates the total staked gauge.
func (m *StakingdMetrics) SetTotalStaked(total *uint256.Int) {
	if m == nil || total == nil {
		return
	}
	m.totalStaked.Set(bigToFloat(total.ToBig()))
}

// RecordInvariantViolation increments the invariant violation counter.
func (m *StakingdMetrics) RecordInvariantViolation() {
	if m == nil {
		return
	}
	m.invariants.Inc()
}

// RecordEvent counts a journaled engine event.
func (m *StakingdMetrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(label(kind)).Inc()
}

// RecordPruned adds to the housekeeping counter.
func (m *StakingdMetrics) RecordPruned(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.pruned.Add(float64(count))
}

// Observe records the outcome of an HTTP request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *StakingdMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if status >= 400 {
		outcome = fmt.Sprintf("%d", status)
	}
	m.requests.WithLabelValues(label(route), outcome).Inc()
	m.latency.WithLabelValues(label(route)).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *StakingdMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(reason)).Inc()
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
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
