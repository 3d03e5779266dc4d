package metrics

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	nativecommon "ovenmint/native/common"
	"ovenmint/native/minter"
)

// MinterMetrics tracks minter operations and the HTTP surface in front of
// them.
type MinterMetrics struct {
	operations   *prometheus.CounterVec
	interest     prometheus.Gauge
	liquidations prometheus.Counter
	minted       prometheus.Counter
	burned       prometheus.Counter
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	throttles    *prometheus.CounterVec

	// exported through the OTLP meter provider when telemetry is enabled
	otlpOperations metric.Int64Counter
}

var (
	minterOnce     sync.Once
	minterRegistry *MinterMetrics

	precisionFloat = new(big.Float).SetUint64(minter.Precision)
)

// Minter returns the lazily registered minter metrics.
func Minter() *MinterMetrics {
	minterOnce.Do(func() {
		minterRegistry = &MinterMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ovenmint",
				Subsystem: "minter",
				Name:      "operations_total",
				Help:      "Minter operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			interest: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "ovenmint",
				Subsystem: "minter",
				Name:      "interest_index",
				Help:      "Current global interest index as a ratio.",
			}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ovenmint",
				Subsystem: "minter",
				Name:      "liquidations_total",
				Help:      "Ovens liquidated.",
			}),
			minted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ovenmint",
				Subsystem: "token",
				Name:      "minted_total",
				Help:      "Debt tokens minted, in whole tokens.",
			}),
			burned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ovenmint",
				Subsystem: "token",
				Name:      "burned_total",
				Help:      "Debt tokens burned, in whole tokens.",
			}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ovenmint",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and status.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ovenmint",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ovenmint",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by rate limiting.",
			}, []string{"reason"}),
		}
		counter, err := otel.Meter("ovenmint/minter").Int64Counter("minter.operations",
			metric.WithDescription("Minter operations segmented by operation and outcome."))
		if err == nil {
			minterRegistry.otlpOperations = counter
		}
		prometheus.MustRegister(
			minterRegistry.operations,
			minterRegistry.interest,
			minterRegistry.liquidations,
			minterRegistry.minted,
			minterRegistry.burned,
			minterRegistry.requests,
			minterRegistry.latency,
			minterRegistry.throttles,
		)
	})
	return minterRegistry
}

// Outcome classifies an operation error into a stable label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	case errors.Is(err, minter.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, minter.ErrLiquidated):
		return "liquidated"
	case errors.Is(err, minter.ErrUnderCollateralized):
		return "under_collateralized"
	case errors.Is(err, minter.ErrNotUnderCollateralized):
		return "not_under_collateralized"
	case errors.Is(err, minter.ErrCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, minter.ErrValueNotAllowed):
		return "value_not_allowed"
	case errors.Is(err, minter.ErrInsufficientDebt):
		return "insufficient_debt"
	case errors.Is(err, minter.ErrClockRegression):
		return "clock_regression"
	case errors.Is(err, minter.ErrArithmeticInvariant), errors.Is(err, minter.ErrDivideByZero):
		return "invariant"
	default:
		return "error"
	}
}

// Observe implements minter.Observer.
func (m *MinterMetrics) Observe(operation string, result *minter.Result, err error) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := Outcome(err)
	m.operations.WithLabelValues(operation, outcome).Inc()
	if m.otlpOperations != nil {
		m.otlpOperations.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("outcome", outcome)))
	}
	if err != nil || result == nil {
		return
	}
	m.interest.Set(scaledFloat(result.State.Interest.Index))
	m.minted.Add(scaledFloat(result.Minted()))
	m.burned.Add(scaledFloat(result.Burned()))
	if operation == minter.OperationLiquidate {
		m.liquidations.Inc()
	}
}

// ObserveRequest records an HTTP request against its route pattern.
func (m *MinterMetrics) ObserveRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if strings.TrimSpace(route) == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *MinterMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

func scaledFloat(x *uint256.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(x.ToBig()), precisionFloat).Float64()
	return f
}
