// Package service provides the periodic run loop shared by every pipeline
// stage (Seeder, Finder, Validator, Monitor, Synchronizer): a ticker-driven
// cycle with graceful shutdown and consecutive-failure gating, grounded on
// the teacher's retention pruning/re-evaluation scheduler loops.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Cycle is one pipeline stage's unit of work. It returns the number of
// items it processed (for metrics/logging) and an error if the cycle
// failed outright.
type Cycle func(ctx context.Context) (processed int, err error)

// Options configures a Base service run loop.
type Options struct {
	Name                string
	Interval            time.Duration
	MaxConsecutiveFails int // 0 uses the default of 5
	Once                bool
	Logger              *zap.Logger
}

// Base runs a Cycle on a fixed interval until its context is cancelled or
// consecutive failures exceed the configured threshold.
type Base struct {
	opts  Options
	log   *zap.Logger
	cycle Cycle

	cyclesTotal   prometheus.Counter
	cycleFailures prometheus.Counter
	cycleItems    prometheus.Counter
	cycleDuration prometheus.Histogram

	labels     prometheus.Labels
	customMu   sync.Mutex
	gauges     map[string]prometheus.Gauge
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

const defaultMaxConsecutiveFails = 5

// New builds a Base service. Metrics carry the service name as a constant
// label and are not registered with any Prometheus registry here; Collectors
// returns them for the caller to register. No HTTP scrape endpoint is
// exposed here (a process embedding multiple services wires its own /metrics
// handler once).
func New(opts Options, cycle Cycle) *Base {
	if opts.MaxConsecutiveFails <= 0 {
		opts.MaxConsecutiveFails = defaultMaxConsecutiveFails
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("service", opts.Name))

	labels := prometheus.Labels{"service": opts.Name}
	return &Base{
		opts:       opts,
		log:        log,
		cycle:      cycle,
		labels:     labels,
		gauges:     map[string]prometheus.Gauge{},
		counters:   map[string]prometheus.Counter{},
		histograms: map[string]prometheus.Histogram{},
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "bigbrotr_service_cycles_total",
			Help:        "Number of run-loop cycles completed.",
			ConstLabels: labels,
		}),
		cycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "bigbrotr_service_cycle_failures_total",
			Help:        "Number of run-loop cycles that returned an error.",
			ConstLabels: labels,
		}),
		cycleItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "bigbrotr_service_items_processed_total",
			Help:        "Number of items processed across all cycles.",
			ConstLabels: labels,
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "bigbrotr_service_cycle_duration_seconds",
			Help:        "Duration of a single run-loop cycle.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

// Collectors returns this service's metrics for registration against a
// process-wide Prometheus registry.
func (b *Base) Collectors() []prometheus.Collector {
	collectors := []prometheus.Collector{b.cyclesTotal, b.cycleFailures, b.cycleItems, b.cycleDuration}
	b.customMu.Lock()
	defer b.customMu.Unlock()
	for _, g := range b.gauges {
		collectors = append(collectors, g)
	}
	for _, c := range b.counters {
		collectors = append(collectors, c)
	}
	for _, h := range b.histograms {
		collectors = append(collectors, h)
	}
	return collectors
}

// SetGauge records an absolute value for a named gauge, creating it on
// first use (spec.md §4.6's set_gauge hook). Cycle implementations call
// this for point-in-time measurements (e.g. queue depth) rather than
// counters/histograms.
func (b *Base) SetGauge(name, help string, value float64) {
	b.customMu.Lock()
	defer b.customMu.Unlock()
	g, ok := b.gauges[name]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help, ConstLabels: b.labels})
		b.gauges[name] = g
	}
	g.Set(value)
}

// IncCounter increments a named counter by delta, creating it on first
// use (spec.md §4.6's inc_counter hook).
func (b *Base) IncCounter(name, help string, delta float64) {
	b.customMu.Lock()
	defer b.customMu.Unlock()
	c, ok := b.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help, ConstLabels: b.labels})
		b.counters[name] = c
	}
	c.Add(delta)
}

// ObserveHistogram records a single observation against a named histogram,
// creating it on first use (spec.md §4.6's observe_histogram hook).
func (b *Base) ObserveHistogram(name, help string, value float64) {
	b.customMu.Lock()
	defer b.customMu.Unlock()
	h, ok := b.histograms[name]
	if !ok {
		h = prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, ConstLabels: b.labels, Buckets: prometheus.DefBuckets})
		b.histograms[name] = h
	}
	h.Observe(value)
}

// RunForever runs the cycle on opts.Interval until ctx is cancelled, the
// one-shot flag is set, or consecutive failures exceed the threshold (in
// which case it returns an error so the caller can exit non-zero).
func (b *Base) RunForever(ctx context.Context) error {
	if b.opts.Once {
		return b.runOnce(ctx)
	}

	if b.opts.Interval <= 0 {
		return &ConfigError{Reason: "interval must be positive for a recurring service"}
	}

	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()

	consecutiveFails := 0
	for {
		if err := b.runOnce(ctx); err != nil {
			consecutiveFails++
			b.log.Warn("cycle failed", zap.Int("consecutive_failures", consecutiveFails), zap.Error(err))
			if consecutiveFails >= b.opts.MaxConsecutiveFails {
				return &MaxFailuresExceeded{Service: b.opts.Name, Count: consecutiveFails, Last: err}
			}
		} else {
			consecutiveFails = 0
		}

		select {
		case <-ctx.Done():
			b.log.Info("shutting down", zap.Error(ctx.Err()))
			return nil
		case <-ticker.C:
		}
	}
}

func (b *Base) runOnce(ctx context.Context) error {
	start := time.Now()
	processed, err := b.cycle(ctx)
	b.cycleDuration.Observe(time.Since(start).Seconds())
	b.cyclesTotal.Inc()
	b.cycleItems.Add(float64(processed))

	if err != nil {
		b.cycleFailures.Inc()
		return err
	}
	b.log.Debug("cycle complete", zap.Int("processed", processed), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// ConfigError reports a Base construction/configuration mistake.
type ConfigError struct{ Reason string }

func (e *ConfigError) Error() string { return "service: " + e.Reason }

// MaxFailuresExceeded is returned by RunForever when a service should be
// restarted by its process supervisor rather than kept looping.
type MaxFailuresExceeded struct {
	Service string
	Count   int
	Last    error
}

func (e *MaxFailuresExceeded) Error() string {
	return "service " + e.Service + ": exceeded max consecutive failures"
}

func (e *MaxFailuresExceeded) Unwrap() error { return e.Last }
