package tierload

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tomasbasham/tierload/loader"
)

// Scheduler routes loads through per-priority tiers and flushes the tiers'
// batches in priority order:
//
//   - Each normalized priority owns one [loader.Loader], created on first use
//   - A tier ready to flush is queued instead of flushing on its own
//   - The first queued tier arms a single sweep on the [Executor]
//   - A sweep flushes queued tiers, lowest priority value first, until the
//     queue is empty, including tiers queued by earlier flushes
//
// Tiers with equal priority are flushed in the order they became ready.
// Schedulers are independent of each other and safe for concurrent use.
type Scheduler[K comparable, V any] struct {
	batchFn     loader.BatchFunc[K, V]
	maxPriority Priority
	executor    Executor
	loaderOpts  []loader.Option[K, V]
	metrics     MetricsHook
	logger      logrus.FieldLogger
	tracer      trace.Tracer

	// Mutex protects the tiers, the queue and the sweep state. It is never
	// held while a flush or the executor runs.
	mu    sync.Mutex
	tiers map[Priority]*loader.Loader[K, V]
	queue PriorityQueue
	armed bool

	// sweepCtx carries the span of the running sweep. Only the sweep
	// goroutine reads or writes it.
	sweepCtx context.Context
}

// New creates a new [Scheduler] resolving keys with batchFn. It panics if
// batchFn is nil or the priority ceiling is negative.
func New[K comparable, V any](batchFn loader.BatchFunc[K, V], opts ...Option[K, V]) *Scheduler[K, V] {
	if batchFn == nil {
		panic("tierload: nil batch function")
	}

	o := &Options[K, V]{MaxPriority: DefaultMaxPriority}
	for _, opt := range opts {
		opt(o)
	}

	if err := o.MaxPriority.Validate(); err != nil {
		panic(fmt.Sprintf("tierload: invalid priority ceiling: %v", err))
	}
	if o.Queue == nil {
		o.Queue = NewPriorityQueue()
	}
	if o.Executor == nil {
		o.Executor = TimerExecutor(DefaultWindow)
	}
	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("tierload")
	}

	return &Scheduler[K, V]{
		batchFn:     batchFn,
		maxPriority: o.MaxPriority,
		executor:    o.Executor,
		loaderOpts:  o.LoaderOptions,
		metrics:     o.Metrics,
		logger:      o.Logger,
		tracer:      o.Tracer,
		tiers:       make(map[Priority]*loader.Loader[K, V]),
		queue:       o.Queue,
	}
}

// Tier returns the loader for priority, creating it on first use. Priorities
// above the ceiling share the ceiling's loader. An error wrapping
// [ErrInvalidPriority] is returned if priority is negative.
func (s *Scheduler[K, V]) Tier(priority Priority) (*loader.Loader[K, V], error) {
	if err := priority.Validate(); err != nil {
		return nil, err
	}

	// The normalized priority is both the lookup and the storage key, so
	// out of range priorities collapse onto a single tier.
	p := priority.Normalize(s.maxPriority)

	s.mu.Lock()
	tier, ok := s.tiers[p]
	if !ok {
		tier = s.newTier(p)
		s.tiers[p] = tier
	}
	s.mu.Unlock()

	if !ok {
		s.metrics.OnTierCreated(p)
		s.logger.WithFields(logrus.Fields{
			"priority":  int(p),
			"requested": int(priority),
		}).Debug("tier created")
	}

	return tier, nil
}

// MustTier is like [Scheduler.Tier] but panics on an invalid priority.
func (s *Scheduler[K, V]) MustTier(priority Priority) *loader.Loader[K, V] {
	tier, err := s.Tier(priority)
	if err != nil {
		panic(err)
	}
	return tier
}

func (s *Scheduler[K, V]) newTier(p Priority) *loader.Loader[K, V] {
	opts := make([]loader.Option[K, V], 0, len(s.loaderOpts)+2)
	opts = append(opts, loader.WithTracer[K, V](s.tracer))
	opts = append(opts, s.loaderOpts...)
	opts = append(opts, loader.WithBatchScheduleFunc[K, V](func(dispatch func(context.Context)) {
		s.schedule(p, dispatch)
	}))
	return loader.New(s.batchFn, opts...)
}

// schedule queues the flush of a tier and arms a sweep if none is
// outstanding.
func (s *Scheduler[K, V]) schedule(p Priority, dispatch func(context.Context)) {
	enqueueAt := time.Now()

	s.mu.Lock()
	s.queue.Enqueue(p, func() {
		s.metrics.OnDispatch(p, time.Since(enqueueAt))
		s.invoke(p, dispatch)
	})
	arm := !s.armed
	s.armed = true
	s.mu.Unlock()

	s.metrics.OnEnqueue(p)

	if !arm {
		return
	}

	// Disarm if the executor fails, so the next ready tier retries.
	deferred := false
	defer func() {
		if !deferred {
			s.mu.Lock()
			s.armed = false
			s.mu.Unlock()
		}
	}()

	if err := s.executor.Defer(s.drain); err != nil {
		panic(fmt.Errorf("tierload: deferred schedule failed: %w", err))
	}
	deferred = true
}

// drain is a sweep: it flushes queued tiers until the queue is empty, then
// disarms.
func (s *Scheduler[K, V]) drain() {
	ctx, span := s.tracer.Start(context.Background(), "tierload.sweep")
	defer span.End()
	s.sweepCtx = ctx

	start := time.Now()
	dispatched := 0
	for {
		s.mu.Lock()
		next, ok := s.queue.ExtractMin()
		if !ok {
			s.armed = false
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()

		next()
		dispatched++
	}

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("tierload.sweep.dispatched", dispatched))
	s.metrics.OnSweep(dispatched, elapsed)
	s.logger.WithFields(logrus.Fields{
		"dispatched": dispatched,
		"duration":   elapsed,
	}).Debug("sweep complete")
}

// invoke flushes one tier inside a span nested under the sweep. Tier batch
// spans link to it.
func (s *Scheduler[K, V]) invoke(p Priority, dispatch func(context.Context)) {
	ctx, span := s.tracer.Start(s.sweepCtx, "tierload.flush",
		trace.WithAttributes(attribute.Int("tierload.priority", int(p))))
	defer span.End()

	defer func() {
		if v := recover(); v != nil {
			s.metrics.OnPanic(p, v)
			s.logger.WithFields(logrus.Fields{
				"priority": int(p),
				"panic":    v,
			}).Error("tier flush panicked")
		}
	}()
	dispatch(ctx)
}

// Tiers returns the normalized priorities that have a tier, in ascending
// order.
func (s *Scheduler[K, V]) Tiers() []Priority {
	s.mu.Lock()
	defer s.mu.Unlock()

	priorities := make([]Priority, 0, len(s.tiers))
	for p := range s.tiers {
		priorities = append(priorities, p)
	}
	slices.Sort(priorities)
	return priorities
}

// Pending returns the number of tiers waiting to be flushed.
func (s *Scheduler[K, V]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Armed reports whether a sweep is outstanding or running.
func (s *Scheduler[K, V]) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// MaxPriority returns the priority ceiling.
func (s *Scheduler[K, V]) MaxPriority() Priority {
	return s.maxPriority
}

// ClearAll empties the cache of every tier.
func (s *Scheduler[K, V]) ClearAll() {
	s.mu.Lock()
	tiers := make([]*loader.Loader[K, V], 0, len(s.tiers))
	for _, tier := range s.tiers {
		tiers = append(tiers, tier)
	}
	s.mu.Unlock()

	for _, tier := range tiers {
		tier.ClearAll()
	}
}
