package loader

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultWait is the collection window used when no schedule hook is
// configured.
const DefaultWait = 2 * time.Millisecond

// ScheduleFunc is invoked once for every new batch. It must eventually call
// dispatch exactly once to flush the batch. The span carried by the context
// passed to dispatch, if any, is linked from the batch span.
type ScheduleFunc func(dispatch func(ctx context.Context))

// Options holds configuration options for the [Loader].
type Options[K comparable, V any] struct {
	MaxBatchSize int
	Cache        Cache[K, V]
	CacheKey     func(K) K
	Schedule     ScheduleFunc
	Tracer       trace.Tracer
}

// Option is a function that configures [Options].
type Option[K comparable, V any] func(*Options[K, V])

// WithMaxBatchSize limits the number of keys passed to a single [BatchFunc]
// call. Zero or a negative value means unlimited.
func WithMaxBatchSize[K comparable, V any](n int) Option[K, V] {
	return func(o *Options[K, V]) {
		o.MaxBatchSize = n
	}
}

// WithCache sets the cache used to deduplicate and memoize loads.
func WithCache[K comparable, V any](c Cache[K, V]) Option[K, V] {
	return func(o *Options[K, V]) {
		o.Cache = c
	}
}

// WithoutCache disables memoization. Every call to [Loader.Load] results in
// its own key within the batch, including repeated keys.
func WithoutCache[K comparable, V any]() Option[K, V] {
	return func(o *Options[K, V]) {
		o.Cache = NoCache[K, V]{}
	}
}

// WithCacheKeyFunc sets the function used to normalize keys before they are
// looked up in the cache.
func WithCacheKeyFunc[K comparable, V any](fn func(K) K) Option[K, V] {
	return func(o *Options[K, V]) {
		o.CacheKey = fn
	}
}

// WithBatchScheduleFunc replaces the default collection window.
func WithBatchScheduleFunc[K comparable, V any](fn ScheduleFunc) Option[K, V] {
	return func(o *Options[K, V]) {
		o.Schedule = fn
	}
}

// WithTracer sets the tracer used to record a span per batch.
func WithTracer[K comparable, V any](t trace.Tracer) Option[K, V] {
	return func(o *Options[K, V]) {
		o.Tracer = t
	}
}

func defaultOptions[K comparable, V any]() *Options[K, V] {
	return &Options[K, V]{
		Cache:  NewMapCache[K, V](),
		Tracer: noop.NewTracerProvider().Tracer("loader"),
		Schedule: func(dispatch func(context.Context)) {
			time.AfterFunc(DefaultWait, func() { dispatch(context.Background()) })
		},
	}
}
