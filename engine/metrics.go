package engine

import (
	"errors"
	"time"

	"github.com/defistate/defistate-clmm/protocols/clmm"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of an Engine.
type Metrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	ticksCrossed prometheus.Counter
	pools        prometheus.Gauge
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clmm",
			Name:      "operations_total",
			Help:      "Operations by name and result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clmm",
			Name:      "operation_duration_seconds",
			Help:      "Time from lock to commit of an operation.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}, []string{"operation"}),
		ticksCrossed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clmm",
			Name:      "ticks_crossed_total",
			Help:      "Initialized ticks crossed by committed swaps.",
		}),
		pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clmm",
			Name:      "pools",
			Help:      "Pools held by the engine.",
		}),
	}
	reg.MustRegister(m.operations, m.duration, m.ticksCrossed, m.pools)
	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	m.operations.WithLabelValues(op, result(err)).Inc()
}

var errorClasses = []struct {
	err   error
	label string
}{
	{clmm.ErrArithmeticOverflow, "arithmetic_overflow"},
	{clmm.ErrTickOutOfRange, "tick_out_of_range"},
	{clmm.ErrInvalidTickOrdering, "invalid_tick_ordering"},
	{clmm.ErrPriceLimitViolation, "price_limit_violation"},
	{clmm.ErrSlippageExceeded, "slippage_exceeded"},
	{clmm.ErrInsufficientLiquidity, "insufficient_liquidity"},
	{clmm.ErrRewardWindowInvalid, "reward_window_invalid"},
	{clmm.ErrInvariantViolation, "invariant_violation"},
}

// result is the metrics label of an operation outcome.
func result(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.label
		}
	}
	return "rejected"
}
