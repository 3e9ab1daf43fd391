package hostloop_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasbasham/tierload/hostloop"
)

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func run(t *testing.T, l *hostloop.Loop) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Run(ctx))
}

func TestLoop_Ordering(t *testing.T) {
	t.Parallel()

	l := hostloop.New()
	rec := &recorder{}

	require.NoError(t, l.Submit(func() {
		rec.add("task")
		_ = l.AfterFunc(0, func() {
			rec.add("timer")
			l.Stop()
		})
		_ = l.SetImmediate(func() { rec.add("immediate") })
		_ = l.QueueMicrotask(func() { rec.add("micro1") })
		_ = l.NextTick(func() { rec.add("tick1") })
		_ = l.QueueMicrotask(func() {
			rec.add("micro2")
			_ = l.NextTick(func() { rec.add("tick2") })
		})
		_ = l.QueueMicrotask(func() { rec.add("micro3") })
	}))

	run(t, l)

	want := []string{"task", "tick1", "micro1", "micro2", "micro3", "tick2", "immediate", "timer"}
	assert.Equal(t, want, rec.events())
}

func TestLoop_MacrotasksRunInSubmissionOrder(t *testing.T) {
	t.Parallel()

	l := hostloop.New()
	rec := &recorder{}

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, l.Submit(func() { rec.add(name) }))
	}
	require.NoError(t, l.SetImmediate(l.Stop))

	run(t, l)

	assert.Equal(t, []string{"a", "b", "c"}, rec.events())
}

func TestLoop_TimersFireInDeadlineOrder(t *testing.T) {
	t.Parallel()

	l := hostloop.New()
	rec := &recorder{}

	require.NoError(t, l.AfterFunc(20*time.Millisecond, func() {
		rec.add("late")
		l.Stop()
	}))
	require.NoError(t, l.AfterFunc(5*time.Millisecond, func() { rec.add("early") }))

	run(t, l)

	assert.Equal(t, []string{"early", "late"}, rec.events())
}

func TestLoop_PanicDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	l := hostloop.New()
	rec := &recorder{}

	require.NoError(t, l.Submit(func() { panic("boom") }))
	require.NoError(t, l.Submit(func() {
		rec.add("after")
		l.Stop()
	}))

	run(t, l)

	assert.Equal(t, []string{"after"}, rec.events())
}

func TestLoop_Stopped(t *testing.T) {
	t.Parallel()

	l := hostloop.New()
	l.Stop()

	assert.ErrorIs(t, l.Submit(func() {}), hostloop.ErrStopped)
	assert.ErrorIs(t, l.NextTick(func() {}), hostloop.ErrStopped)
	assert.ErrorIs(t, l.QueueMicrotask(func() {}), hostloop.ErrStopped)
	assert.ErrorIs(t, l.SetImmediate(func() {}), hostloop.ErrStopped)
	assert.ErrorIs(t, l.AfterFunc(time.Second, func() {}), hostloop.ErrStopped)
}

func TestLoop_ContextCancel(t *testing.T) {
	t.Parallel()

	l := hostloop.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Run(ctx), context.Canceled)
}
