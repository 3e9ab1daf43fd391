package tierload

import (
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomasbasham/tierload/loader"
)

// Options holds configuration options for the [Scheduler].
type Options[K comparable, V any] struct {
	MaxPriority   Priority
	Queue         PriorityQueue
	Executor      Executor
	LoaderOptions []loader.Option[K, V]
	Metrics       MetricsHook
	Logger        logrus.FieldLogger
	Tracer        trace.Tracer
}

// Option is a function that configures [Options].
type Option[K comparable, V any] func(*Options[K, V])

// WithMaxPriority sets the priority ceiling. Requests above it share the
// ceiling's tier.
func WithMaxPriority[K comparable, V any](p Priority) Option[K, V] {
	return func(o *Options[K, V]) {
		o.MaxPriority = p
	}
}

// WithPriorityQueue sets the queue holding pending dispatches.
func WithPriorityQueue[K comparable, V any](q PriorityQueue) Option[K, V] {
	return func(o *Options[K, V]) {
		o.Queue = q
	}
}

// WithExecutor sets the executor that runs sweeps.
func WithExecutor[K comparable, V any](e Executor) Option[K, V] {
	return func(o *Options[K, V]) {
		o.Executor = e
	}
}

// WithLoaderOptions passes options to every tier's [loader.Loader]. Any
// schedule hook given here is overridden by the [Scheduler].
func WithLoaderOptions[K comparable, V any](opts ...loader.Option[K, V]) Option[K, V] {
	return func(o *Options[K, V]) {
		o.LoaderOptions = append(o.LoaderOptions, opts...)
	}
}

// WithMetricsHook sets the metrics hook for the [Scheduler].
func WithMetricsHook[K comparable, V any](hook MetricsHook) Option[K, V] {
	return func(o *Options[K, V]) {
		o.Metrics = hook
	}
}

// WithLogger sets the logger for the [Scheduler]. By default nothing is
// logged.
func WithLogger[K comparable, V any](logger logrus.FieldLogger) Option[K, V] {
	return func(o *Options[K, V]) {
		o.Logger = logger
	}
}

// WithTracer sets the tracer used for sweeps. It is also passed to every tier.
func WithTracer[K comparable, V any](tracer trace.Tracer) Option[K, V] {
	return func(o *Options[K, V]) {
		o.Tracer = tracer
	}
}
