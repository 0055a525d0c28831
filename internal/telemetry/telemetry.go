// Package telemetry records pool and task runner metrics.
package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by connection sources and task
// runners. Calls happen inline on borrow and release paths, so
// implementations must be cheap and must not block.
type Collector interface {
	ObserveBorrow(source string, wait time.Duration)
	SetInUse(source string, n int)
	IncBorrowTimeout(source string)
	IncLeak(source string, n int)
	IncTask(runner, status string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) ObserveBorrow(string, time.Duration) {}
func (noopCollector) SetInUse(string, int)               {}
func (noopCollector) IncBorrowTimeout(string)            {}
func (noopCollector) IncLeak(string, int)                {}
func (noopCollector) IncTask(string, string)             {}

// PrometheusCollector exposes telemetry via Prometheus.
type PrometheusCollector struct {
	borrowWait     *prometheus.HistogramVec
	inUse          *prometheus.GaugeVec
	borrowTimeouts *prometheus.CounterVec
	leaks          *prometheus.CounterVec
	tasks          *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg. Metrics that are
// already registered are reused, so several collectors can share a registry.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var (
		p   PrometheusCollector
		err error
	)
	p.borrowWait, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leapcrawl_pool_borrow_wait_seconds",
		Help:    "Time spent waiting for a pooled connection.",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
	}, []string{"source"}))
	if err != nil {
		return nil, err
	}
	p.inUse, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "leapcrawl_pool_connections_in_use",
		Help: "Number of connections currently checked out of a source.",
	}, []string{"source"}))
	if err != nil {
		return nil, err
	}
	p.borrowTimeouts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leapcrawl_pool_borrow_timeouts_total",
		Help: "Number of borrows that gave up after the borrow timeout.",
	}, []string{"source"}))
	if err != nil {
		return nil, err
	}
	p.leaks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leapcrawl_pool_leaked_connections_total",
		Help: "Number of connections found checked out when their source was closed.",
	}, []string{"source"}))
	if err != nil {
		return nil, err
	}
	p.tasks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leapcrawl_tasks_total",
		Help: "Number of finished tasks per runner and final status.",
	}, []string{"runner", "status"}))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// ObserveBorrow records how long a borrow waited for a connection.
func (p *PrometheusCollector) ObserveBorrow(source string, wait time.Duration) {
	if p == nil {
		return
	}
	p.borrowWait.WithLabelValues(source).Observe(wait.Seconds())
}

// SetInUse updates the checked out gauge of a source.
func (p *PrometheusCollector) SetInUse(source string, n int) {
	if p == nil {
		return
	}
	p.inUse.WithLabelValues(source).Set(float64(n))
}

// IncBorrowTimeout counts a borrow that timed out.
func (p *PrometheusCollector) IncBorrowTimeout(source string) {
	if p == nil {
		return
	}
	p.borrowTimeouts.WithLabelValues(source).Inc()
}

// IncLeak counts connections that were still checked out at close.
func (p *PrometheusCollector) IncLeak(source string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.leaks.WithLabelValues(source).Add(float64(n))
}

// IncTask counts a finished task.
func (p *PrometheusCollector) IncTask(runner, status string) {
	if p == nil {
		return
	}
	p.tasks.WithLabelValues(runner, status).Inc()
}
