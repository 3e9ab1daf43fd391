package loader_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasbasham/tierload/loader"
)

// manualSchedule collects dispatch callbacks so tests decide when batches
// flush.
type manualSchedule struct {
	mu         sync.Mutex
	dispatches []func(context.Context)
}

func (m *manualSchedule) schedule(dispatch func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches = append(m.dispatches, dispatch)
}

func (m *manualSchedule) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dispatches)
}

func (m *manualSchedule) flush() {
	m.mu.Lock()
	dispatches := m.dispatches
	m.dispatches = nil
	m.mu.Unlock()

	for _, dispatch := range dispatches {
		dispatch(context.Background())
	}
}

// recordingBatch echoes keys as their string form and records every batch.
type recordingBatch struct {
	mu      sync.Mutex
	batches [][]int
}

func (r *recordingBatch) fn(_ context.Context, keys []int) []loader.Result[string] {
	r.mu.Lock()
	r.batches = append(r.batches, append([]int(nil), keys...))
	r.mu.Unlock()

	results := make([]loader.Result[string], len(keys))
	for i, k := range keys {
		results[i] = loader.Result[string]{Value: fmt.Sprint(k)}
	}
	return results
}

func (r *recordingBatch) calls() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches
}

func newLoader(rb *recordingBatch, ms *manualSchedule, opts ...loader.Option[int, string]) *loader.Loader[int, string] {
	opts = append(opts, loader.WithBatchScheduleFunc[int, string](ms.schedule))
	return loader.New(rb.fn, opts...)
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	t.Run("batches and deduplicates keys", func(t *testing.T) {
		t.Parallel()

		rb, ms := &recordingBatch{}, &manualSchedule{}
		l := newLoader(rb, ms)

		a := l.Load(context.Background(), 1)
		b := l.Load(context.Background(), 2)
		c := l.Load(context.Background(), 1)

		assert.Equal(t, 1, ms.count(), "one schedule call per batch")
		assert.Empty(t, rb.calls(), "nothing flushed before dispatch")

		ms.flush()

		for key, thunk := range map[string]loader.Thunk[string]{"1": a, "2": b} {
			got, err := thunk()
			require.NoError(t, err)
			assert.Equal(t, key, got)
		}
		got, err := c()
		require.NoError(t, err)
		assert.Equal(t, "1", got)
		assert.Equal(t, [][]int{{1, 2}}, rb.calls())
	})

	t.Run("cached keys are not fetched again", func(t *testing.T) {
		t.Parallel()

		rb, ms := &recordingBatch{}, &manualSchedule{}
		l := newLoader(rb, ms)

		l.Load(context.Background(), 1)
		ms.flush()

		got, err := l.Load(context.Background(), 1)()
		require.NoError(t, err)
		assert.Equal(t, "1", got)
		assert.Equal(t, 0, ms.count())
		assert.Len(t, rb.calls(), 1)
	})

	t.Run("max batch size starts a new batch", func(t *testing.T) {
		t.Parallel()

		rb, ms := &recordingBatch{}, &manualSchedule{}
		l := newLoader(rb, ms, loader.WithMaxBatchSize[int, string](2))

		thunks := l.LoadMany(context.Background(), []int{1, 2, 3})
		assert.Equal(t, 2, ms.count())

		ms.flush()

		values, errs := thunks()
		assert.Nil(t, errs)
		assert.Equal(t, []string{"1", "2", "3"}, values)
		assert.Equal(t, [][]int{{1, 2}, {3}}, rb.calls())
	})

	t.Run("without cache repeated keys are passed through", func(t *testing.T) {
		t.Parallel()

		rb, ms := &recordingBatch{}, &manualSchedule{}
		l := newLoader(rb, ms, loader.WithoutCache[int, string]())

		l.Load(context.Background(), 7)
		l.Load(context.Background(), 7)
		ms.flush()

		assert.Equal(t, [][]int{{7, 7}}, rb.calls())
	})

	t.Run("dispatch runs at most once", func(t *testing.T) {
		t.Parallel()

		rb := &recordingBatch{}
		var dispatch func(context.Context)
		l := loader.New(rb.fn, loader.WithBatchScheduleFunc[int, string](func(d func(context.Context)) { dispatch = d }))

		l.Load(context.Background(), 1)
		dispatch(context.Background())
		dispatch(context.Background())

		assert.Len(t, rb.calls(), 1)
	})
}

func TestLoader_CacheKeyFunc(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen [][]string
	batchFn := func(_ context.Context, keys []string) []loader.Result[int] {
		mu.Lock()
		seen = append(seen, keys)
		mu.Unlock()
		return make([]loader.Result[int], len(keys))
	}

	ms := &manualSchedule{}
	l := loader.New(batchFn,
		loader.WithCacheKeyFunc[string, int](strings.ToLower),
		loader.WithBatchScheduleFunc[string, int](ms.schedule),
	)

	l.Load(context.Background(), "Key")
	l.Load(context.Background(), "KEY")
	l.Load(context.Background(), "key")
	ms.flush()

	assert.Equal(t, [][]string{{"Key"}}, seen)
}

func TestLoader_Invalidation(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		invalidate func(l *loader.Loader[int, string])
		want       [][]int
	}{
		"clear a single key": {
			invalidate: func(l *loader.Loader[int, string]) { l.Clear(1) },
			want:       [][]int{{1, 2}, {1}},
		},
		"clear all keys": {
			invalidate: func(l *loader.Loader[int, string]) { l.ClearAll() },
			want:       [][]int{{1, 2}, {1, 2}},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rb, ms := &recordingBatch{}, &manualSchedule{}
			l := newLoader(rb, ms)

			l.LoadMany(context.Background(), []int{1, 2})
			ms.flush()

			tt.invalidate(l)

			l.LoadMany(context.Background(), []int{1, 2})
			ms.flush()

			assert.Equal(t, tt.want, rb.calls())
		})
	}
}

func TestLoader_Prime(t *testing.T) {
	t.Parallel()

	rb, ms := &recordingBatch{}, &manualSchedule{}
	l := newLoader(rb, ms)

	l.Prime(1, "primed").Prime(1, "ignored")

	got, err := l.Load(context.Background(), 1)()
	require.NoError(t, err)
	assert.Equal(t, "primed", got)
	assert.Equal(t, 0, ms.count())
}

func TestLoader_Errors(t *testing.T) {
	t.Parallel()

	errNotFound := errors.New("not found")

	tests := map[string]struct {
		batchFn   loader.BatchFunc[int, string]
		wantErr   error
		wantCache bool
	}{
		"per key error is cached": {
			batchFn: func(_ context.Context, keys []int) []loader.Result[string] {
				results := make([]loader.Result[string], len(keys))
				for i := range keys {
					results[i].Err = errNotFound
				}
				return results
			},
			wantErr:   errNotFound,
			wantCache: true,
		},
		"wrong number of results": {
			batchFn: func(context.Context, []int) []loader.Result[string] {
				return nil
			},
			wantErr: loader.ErrBatchLength,
		},
		"panicking batch function": {
			batchFn: func(context.Context, []int) []loader.Result[string] {
				panic("boom")
			},
			wantErr: loader.ErrPanic,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ms := &manualSchedule{}
			l := loader.New(tt.batchFn, loader.WithBatchScheduleFunc[int, string](ms.schedule))

			thunks := l.LoadMany(context.Background(), []int{1, 2})
			ms.flush()

			_, errs := thunks()
			require.Len(t, errs, 2)
			for _, err := range errs {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			// A cached failure resolves without scheduling a new batch.
			l.Load(context.Background(), 1)
			if tt.wantCache {
				assert.Equal(t, 0, ms.count())
			} else {
				assert.Equal(t, 1, ms.count())
			}
		})
	}
}

func TestLoader_DefaultSchedule(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		rb := &recordingBatch{}
		l := loader.New(rb.fn)

		a := l.Load(context.Background(), 1)
		b := l.Load(context.Background(), 2)

		got, err := a()
		require.NoError(t, err)
		assert.Equal(t, "1", got)

		got, err = b()
		require.NoError(t, err)
		assert.Equal(t, "2", got)

		assert.Equal(t, [][]int{{1, 2}}, rb.calls())
	})
}

func TestLoader_CancelledContextStillResolves(t *testing.T) {
	t.Parallel()

	var batchErr error
	batchFn := func(ctx context.Context, keys []int) []loader.Result[int] {
		batchErr = ctx.Err()
		results := make([]loader.Result[int], len(keys))
		for i, k := range keys {
			results[i].Value = k * 10
		}
		return results
	}

	ms := &manualSchedule{}
	l := loader.New(batchFn, loader.WithBatchScheduleFunc[int, int](ms.schedule))

	ctx, cancel := context.WithCancel(context.Background())
	thunk := l.Load(ctx, 4)
	cancel()
	ms.flush()

	got, err := thunk()
	require.NoError(t, err)
	assert.Equal(t, 40, got)
	assert.NoError(t, batchErr)
}

func TestLoader_SchedulePanic(t *testing.T) {
	t.Parallel()

	rb := &recordingBatch{}
	var dispatches []func(context.Context)
	refuse := true
	l := loader.New(rb.fn, loader.WithBatchScheduleFunc[int, string](func(d func(context.Context)) {
		dispatches = append(dispatches, d)
		if refuse {
			refuse = false
			panic("refused")
		}
	}))

	assert.Panics(t, func() { l.Load(context.Background(), 1) })

	// The refused batch is closed, so the next load schedules its own.
	second := l.Load(context.Background(), 2)
	require.Len(t, dispatches, 2)

	for _, d := range dispatches {
		d(context.Background())
	}

	got, err := second()
	require.NoError(t, err)
	assert.Equal(t, "2", got)
	assert.Equal(t, [][]int{{1}, {2}}, rb.calls())
}

// evictPanicCache panics on the first eviction of a failed batch.
type evictPanicCache struct {
	loader.NoCache[int, string]
}

func (evictPanicCache) Delete(int) { panic("evict") }

func TestLoader_FailedBatchResolvesBeforeEviction(t *testing.T) {
	t.Parallel()

	ms := &manualSchedule{}
	l := loader.New(
		func(context.Context, []int) []loader.Result[string] { return nil },
		loader.WithCache[int, string](evictPanicCache{}),
		loader.WithBatchScheduleFunc[int, string](ms.schedule),
	)

	thunks := []loader.Thunk[string]{
		l.Load(context.Background(), 1),
		l.Load(context.Background(), 2),
		l.Load(context.Background(), 3),
	}
	assert.Panics(t, ms.flush)

	for _, thunk := range thunks {
		_, err := thunk()
		assert.ErrorIs(t, err, loader.ErrBatchLength)
	}
}

func TestNewPanicsOnNilBatchFunc(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		loader.New[int, int](nil)
	})
}
