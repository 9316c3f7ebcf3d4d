// Package metrics records ledger activity. Components depend on Collector;
// cmd/server wires the Prometheus implementation and tests use Noop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels shared by all operations.
const (
	ResultSuccess   = "success"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultError     = "error"
)

// Collector defines the metrics the ledger components emit.
type Collector interface {
	RecordOperationDuration(operation string, d time.Duration)
	RecordOperationResult(operation, result string)
	RecordEvent(eventType, result string)
	RecordRetry(operation string)
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
	RecordBreakerState(name, state string)
	RecordCompensation(result string)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordOperationDuration(string, time.Duration) {}
func (Noop) RecordOperationResult(string, string)          {}
func (Noop) RecordEvent(string, string)                    {}
func (Noop) RecordRetry(string)                            {}
func (Noop) RecordCacheHit(string)                         {}
func (Noop) RecordCacheMiss(string)                        {}
func (Noop) RecordBreakerState(string, string)             {}
func (Noop) RecordCompensation(string)                     {}

// Prometheus implements Collector on top of client_golang.
type Prometheus struct {
	operationDuration *prometheus.HistogramVec
	operationResults  *prometheus.CounterVec
	events            *prometheus.CounterVec
	retries           *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	compensations     *prometheus.CounterVec
}

// NewPrometheus registers the ledger metrics on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		),
		operationResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Ledger operations by outcome",
			},
			[]string{"operation", "result"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_processor_events_total",
				Help: "Processor callbacks by event type and outcome",
			},
			[]string{"type", "result"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_retries_total",
				Help: "Local retries after version conflicts or store errors",
			},
			[]string{"operation"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_lookups_total",
				Help: "Cache lookups by outcome",
			},
			[]string{"cache", "outcome"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledger_circuit_breaker_open",
				Help: "1 while the named circuit breaker is not closed",
			},
			[]string{"name", "state"},
		),
		compensations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_withdrawal_compensations_total",
				Help: "Reservations released after a processor failure",
			},
			[]string{"result"},
		),
	}
}

func (p *Prometheus) RecordOperationDuration(operation string, d time.Duration) {
	p.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (p *Prometheus) RecordOperationResult(operation, result string) {
	p.operationResults.WithLabelValues(operation, result).Inc()
}

func (p *Prometheus) RecordEvent(eventType, result string) {
	p.events.WithLabelValues(eventType, result).Inc()
}

func (p *Prometheus) RecordRetry(operation string) {
	p.retries.WithLabelValues(operation).Inc()
}

func (p *Prometheus) RecordCacheHit(cache string) {
	p.cacheLookups.WithLabelValues(cache, "hit").Inc()
}

func (p *Prometheus) RecordCacheMiss(cache string) {
	p.cacheLookups.WithLabelValues(cache, "miss").Inc()
}

func (p *Prometheus) RecordBreakerState(name, state string) {
	p.breakerState.DeletePartialMatch(prometheus.Labels{"name": name})
	open := 0.0
	if state != "closed" {
		open = 1
	}
	p.breakerState.WithLabelValues(name, state).Set(open)
}

func (p *Prometheus) RecordCompensation(result string) {
	p.compensations.WithLabelValues(result).Inc()
}
