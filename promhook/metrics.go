// Package promhook exports [tierload.MetricsHook] events as Prometheus
// metrics.
package promhook

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomasbasham/tierload"
)

// Metrics tracks scheduler activity. All metrics use the tierload_ prefix.
//
// A nil *Metrics is a valid hook that records nothing.
type Metrics struct {
	// EnqueuedTotal counts tier batches queued for dispatch, by priority
	EnqueuedTotal *prometheus.CounterVec

	// DispatchedTotal counts tier batches flushed by a sweep, by priority
	DispatchedTotal *prometheus.CounterVec

	// FlushPanicsTotal counts flushes that panicked, by priority
	FlushPanicsTotal *prometheus.CounterVec

	// DispatchWait tracks the time a batch spent queued before its flush
	DispatchWait *prometheus.HistogramVec

	// SweepDuration tracks how long each sweep ran
	SweepDuration prometheus.Histogram

	// SweepSize tracks the number of flushes per sweep
	SweepSize prometheus.Histogram

	// Tiers tracks the number of tiers created
	Tiers prometheus.Gauge
}

var _ tierload.MetricsHook = (*Metrics)(nil)

// New creates scheduler metrics and registers them with reg. It panics if
// registration fails.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierload_enqueued_total",
				Help: "Total tier batches queued for dispatch by priority",
			},
			[]string{"priority"},
		),
		DispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierload_dispatched_total",
				Help: "Total tier batches flushed by priority",
			},
			[]string{"priority"},
		),
		FlushPanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierload_flush_panics_total",
				Help: "Total tier flushes that panicked by priority",
			},
			[]string{"priority"},
		),
		DispatchWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tierload_dispatch_wait_seconds",
				Help:    "Time a tier batch waited in the dispatch queue",
				Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
			},
			[]string{"priority"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tierload_sweep_duration_seconds",
				Help:    "Duration of a dispatch sweep in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		SweepSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tierload_sweep_size",
				Help:    "Number of tier flushes per sweep",
				Buckets: prometheus.ExponentialBuckets(1, 2, 8),
			},
		),
		Tiers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tierload_tiers",
				Help: "Number of priority tiers created",
			},
		),
	}

	reg.MustRegister(
		m.EnqueuedTotal,
		m.DispatchedTotal,
		m.FlushPanicsTotal,
		m.DispatchWait,
		m.SweepDuration,
		m.SweepSize,
		m.Tiers,
	)

	return m
}

func (m *Metrics) OnTierCreated(tierload.Priority) {
	if m == nil {
		return
	}
	m.Tiers.Inc()
}

func (m *Metrics) OnEnqueue(priority tierload.Priority) {
	if m == nil {
		return
	}
	m.EnqueuedTotal.WithLabelValues(label(priority)).Inc()
}

func (m *Metrics) OnDispatch(priority tierload.Priority, wait time.Duration) {
	if m == nil {
		return
	}
	l := label(priority)
	m.DispatchedTotal.WithLabelValues(l).Inc()
	m.DispatchWait.WithLabelValues(l).Observe(wait.Seconds())
}

func (m *Metrics) OnSweep(dispatched int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(elapsed.Seconds())
	m.SweepSize.Observe(float64(dispatched))
}

func (m *Metrics) OnPanic(priority tierload.Priority, _ any) {
	if m == nil {
		return
	}
	m.FlushPanicsTotal.WithLabelValues(label(priority)).Inc()
}

func label(p tierload.Priority) string {
	return strconv.Itoa(int(p))
}
