package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine records outcomes of the stock and money mutating operations.
// A nil *Engine is valid and records nothing.
type Engine struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	lockWait   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
}

// New registers the engine metrics on the provided registerer.
func New(reg prometheus.Registerer) *Engine {
	if reg == nil {
		return &Engine{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opscore_operations_total",
		Help: "Engine operations by name and outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opscore_operation_duration_seconds",
		Help:    "Duration of engine operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opscore_lock_wait_seconds",
		Help:    "Time spent waiting for keyed locks.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
	}, []string{"scope"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opscore_persistence_retries_total",
		Help: "Persistence calls retried after a transient failure.",
	}, []string{"operation"})
	reg.MustRegister(operations, duration, lockWait, retries)
	return &Engine{
		operations: operations,
		duration:   duration,
		lockWait:   lockWait,
		retries:    retries,
	}
}

// Observe records one finished operation. outcome is the error code or "ok".
func (e *Engine) Observe(operation string, outcome string, elapsed time.Duration) {
	if e == nil || e.operations == nil {
		return
	}
	e.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
	e.duration.WithLabelValues(normalizeLabel(operation)).Observe(elapsed.Seconds())
}

func (e *Engine) ObserveLockWait(scope string, waited time.Duration) {
	if e == nil || e.lockWait == nil {
		return
	}
	e.lockWait.WithLabelValues(normalizeLabel(scope)).Observe(waited.Seconds())
}

func (e *Engine) IncRetry(operation string) {
	if e == nil || e.retries == nil {
		return
	}
	e.retries.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
