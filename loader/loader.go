package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrBatchLength is returned for every key of a batch whose [BatchFunc]
	// did not return exactly one [Result] per key.
	ErrBatchLength = errors.New("loader: batch function returned wrong number of results")

	// ErrPanic is returned for every key of a batch whose [BatchFunc]
	// panicked.
	ErrPanic = errors.New("loader: batch function panicked")
)

// Result is the outcome for a single key.
type Result[V any] struct {
	Value V
	Err   error
}

// BatchFunc resolves a batch of keys. It must return one [Result] per key, in
// the same order as keys.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) []Result[V]

// Thunk blocks until the value of a load is available.
//
// Waiting on a thunk from the goroutine responsible for flushing its batch
// (e.g. a single threaded host loop) deadlocks.
type Thunk[V any] func() (V, error)

// ThunkMany blocks until every value of a bulk load is available. The error
// slice is nil if no key failed, otherwise it is index aligned with the
// values.
type ThunkMany[V any] func() ([]V, []error)

// Loader batches and deduplicates loads by key. Instances must be created
// using [New] and are safe for concurrent use.
type Loader[K comparable, V any] struct {
	batchFn      BatchFunc[K, V]
	maxBatchSize int
	cache        Cache[K, V]
	cacheKey     func(K) K
	schedule     ScheduleFunc
	tracer       trace.Tracer

	mu      sync.Mutex
	current *batch[K, V] // collecting keys, not yet dispatched
}

type batch[K comparable, V any] struct {
	ctx        context.Context
	keys       []K
	cacheKeys  []K
	results    []*result[V]
	dispatched bool
}

type result[V any] struct {
	done  chan struct{}
	value V
	err   error
}

func (r *result[V]) resolve(value V, err error) {
	r.value, r.err = value, err
	close(r.done)
}

func (r *result[V]) wait() (V, error) {
	<-r.done
	return r.value, r.err
}

// New creates a [Loader] for the given batch function. It panics if batchFn
// is nil.
func New[K comparable, V any](batchFn BatchFunc[K, V], opts ...Option[K, V]) *Loader[K, V] {
	if batchFn == nil {
		panic("loader: nil batch function")
	}

	o := defaultOptions[K, V]()
	for _, opt := range opts {
		opt(o)
	}
	if o.Cache == nil {
		o.Cache = NoCache[K, V]{}
	}

	return &Loader[K, V]{
		batchFn:      batchFn,
		maxBatchSize: o.MaxBatchSize,
		cache:        o.Cache,
		cacheKey:     o.CacheKey,
		schedule:     o.Schedule,
		tracer:       o.Tracer,
	}
}

// Load requests the value for key. The returned [Thunk] resolves once the
// batch containing key has been flushed.
//
// The context of the first load in a batch is passed to the [BatchFunc],
// detached from its cancellation: once issued, a load is resolved only by
// its batch.
func (l *Loader[K, V]) Load(ctx context.Context, key K) Thunk[V] {
	ck := l.normalize(key)

	l.mu.Lock()
	if thunk, ok := l.cache.Get(ck); ok {
		l.mu.Unlock()
		return thunk
	}

	r := &result[V]{done: make(chan struct{})}
	thunk := Thunk[V](r.wait)
	l.cache.Set(ck, thunk)

	b := l.current
	created := b == nil
	if created {
		b = &batch[K, V]{ctx: context.WithoutCancel(ctx)}
		l.current = b
	}
	b.keys = append(b.keys, key)
	b.cacheKeys = append(b.cacheKeys, ck)
	b.results = append(b.results, r)

	// A full batch stays scheduled; the next load starts a new one.
	if l.maxBatchSize > 0 && len(b.keys) >= l.maxBatchSize {
		l.current = nil
	}
	l.mu.Unlock()

	if created {
		l.scheduleBatch(b)
	}
	return thunk
}

// scheduleBatch hands b to the schedule hook. If the hook panics, b stops
// collecting keys so the next load starts a batch and calls the hook again.
func (l *Loader[K, V]) scheduleBatch(b *batch[K, V]) {
	defer func() {
		if v := recover(); v != nil {
			l.mu.Lock()
			if l.current == b {
				l.current = nil
			}
			l.mu.Unlock()
			panic(v)
		}
	}()
	l.schedule(func(ctx context.Context) { l.dispatch(ctx, b) })
}

// LoadMany requests the values for keys.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) ThunkMany[V] {
	thunks := make([]Thunk[V], len(keys))
	for i, key := range keys {
		thunks[i] = l.Load(ctx, key)
	}

	return func() ([]V, []error) {
		values := make([]V, len(thunks))
		var errs []error
		for i, thunk := range thunks {
			v, err := thunk()
			values[i] = v
			if err != nil {
				if errs == nil {
					errs = make([]error, len(thunks))
				}
				errs[i] = err
			}
		}
		return values, errs
	}
}

// Prime stores value for key, unless key is already cached.
func (l *Loader[K, V]) Prime(key K, value V) *Loader[K, V] {
	ck := l.normalize(key)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cache.Get(ck); !ok {
		l.cache.Set(ck, func() (V, error) { return value, nil })
	}
	return l
}

// Clear removes key from the cache. Pending loads for key are unaffected.
func (l *Loader[K, V]) Clear(key K) *Loader[K, V] {
	l.cache.Delete(l.normalize(key))
	return l
}

// ClearAll empties the cache.
func (l *Loader[K, V]) ClearAll() *Loader[K, V] {
	l.cache.Clear()
	return l
}

func (l *Loader[K, V]) normalize(key K) K {
	if l.cacheKey == nil {
		return key
	}
	return l.cacheKey(key)
}

func (l *Loader[K, V]) dispatch(ctx context.Context, b *batch[K, V]) {
	l.mu.Lock()
	if b.dispatched {
		l.mu.Unlock()
		return
	}
	b.dispatched = true
	if l.current == b {
		l.current = nil
	}
	l.mu.Unlock()

	// The batch belongs to the trace of its first load.
	opts := []trace.SpanStartOption{
		trace.WithAttributes(attribute.Int("loader.batch.size", len(b.keys))),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: sc}))
	}
	batchCtx, span := l.tracer.Start(b.ctx, "loader.batch", opts...)
	defer span.End()

	results, err := l.call(batchCtx, b.keys)
	if err == nil && len(results) != len(b.keys) {
		err = fmt.Errorf("%w: got %d for %d keys", ErrBatchLength, len(results), len(b.keys))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		// Every waiter is released before the cache, which may be user
		// code, is touched.
		var zero V
		for _, r := range b.results {
			r.resolve(zero, err)
		}
		for _, ck := range b.cacheKeys {
			l.cache.Delete(ck)
		}
		return
	}

	for i, r := range b.results {
		r.resolve(results[i].Value, results[i].Err)
	}
}

func (l *Loader[K, V]) call(ctx context.Context, keys []K) (results []Result[V], err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, v)
		}
	}()
	return l.batchFn(ctx, keys), nil
}
