// Package hostloop provides a small cooperative event loop: a single
// goroutine running macrotasks, next ticks, microtasks, immediates and
// timers with Node.js-like ordering.
//
// Task ordering within each iteration:
//  1. Timers whose deadline has passed (earliest deadline first)
//  2. Macrotasks submitted with [Loop.Submit]
//  3. Immediates queued with [Loop.SetImmediate]
//
// After every callback the next tick queue is drained, then the microtask
// queue, repeating until both are empty. Next ticks queued from a microtask
// therefore run after every microtask already queued.
package hostloop

import (
	"container/heap"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrStopped is returned when scheduling on a stopped [Loop].
var ErrStopped = errors.New("hostloop: loop stopped")

// Options holds configuration options for the [Loop].
type Options struct {
	Logger logrus.FieldLogger
}

// Option is a function that configures [Options].
type Option func(*Options)

// WithLogger sets the logger used to report panicking callbacks.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Loop is a cooperative event loop. Scheduling methods are safe to call from
// any goroutine; callbacks run on the goroutine calling [Loop.Run].
type Loop struct {
	logger logrus.FieldLogger

	mu         sync.Mutex
	macrotasks []func()
	immediates []func()
	nextTicks  []func()
	microtasks []func()
	timers     timerHeap
	timerSeq   uint64
	stopped    bool

	wake chan struct{}
}

// New creates a new [Loop]. It does nothing until [Loop.Run] is called.
func New(opts ...Option) *Loop {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}

	return &Loop{
		logger: o.Logger,
		wake:   make(chan struct{}, 1),
	}
}

// Submit queues a macrotask.
func (l *Loop) Submit(fn func()) error {
	return l.push(&l.macrotasks, fn)
}

// SetImmediate queues fn to run after the macrotasks of the next iteration.
func (l *Loop) SetImmediate(fn func()) error {
	return l.push(&l.immediates, fn)
}

// NextTick queues fn to run as soon as the current callback returns, before
// any microtask.
func (l *Loop) NextTick(fn func()) error {
	return l.push(&l.nextTicks, fn)
}

// QueueMicrotask queues fn to run after the current callback and its next
// ticks.
func (l *Loop) QueueMicrotask(fn func()) error {
	return l.push(&l.microtasks, fn)
}

// AfterFunc runs fn on the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	heap.Push(&l.timers, &timer{when: time.Now().Add(d), fn: fn, seqNo: l.timerSeq})
	l.timerSeq++
	l.mu.Unlock()

	l.notify()
	return nil
}

// Stop makes [Loop.Run] return once the current iteration finishes. Pending
// callbacks are discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.notify()
}

// Run processes callbacks until [Loop.Stop] is called or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.tick()

		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return nil
		}
		busy := len(l.macrotasks) > 0 || len(l.immediates) > 0 ||
			len(l.nextTicks) > 0 || len(l.microtasks) > 0
		var deadline *time.Timer
		if !busy && len(l.timers) > 0 {
			deadline = time.NewTimer(time.Until(l.timers[0].when))
		}
		l.mu.Unlock()

		if busy {
			continue
		}

		var fire <-chan time.Time
		if deadline != nil {
			fire = deadline.C
		}

		select {
		case <-ctx.Done():
			if deadline != nil {
				deadline.Stop()
			}
			return ctx.Err()
		case <-l.wake:
		case <-fire:
		}
		if deadline != nil {
			deadline.Stop()
		}
	}
}

func (l *Loop) tick() {
	for _, fn := range l.dueTimers(time.Now()) {
		l.execute(fn)
	}
	for _, fn := range l.take(&l.macrotasks) {
		l.execute(fn)
	}
	// Jobs queued from other goroutines.
	l.drainJobs()
	for _, fn := range l.take(&l.immediates) {
		l.execute(fn)
	}
}

// execute runs a callback followed by the jobs it queued.
func (l *Loop) execute(fn func()) {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return
	}

	l.safeExecute(fn)
	l.drainJobs()
}

func (l *Loop) drainJobs() {
	for {
		for fn := l.pop(&l.nextTicks); fn != nil; fn = l.pop(&l.nextTicks) {
			l.safeExecute(fn)
		}
		for fn := l.pop(&l.microtasks); fn != nil; fn = l.pop(&l.microtasks) {
			l.safeExecute(fn)
		}

		l.mu.Lock()
		done := l.stopped || len(l.nextTicks) == 0
		l.mu.Unlock()
		if done {
			return
		}
	}
}

func (l *Loop) safeExecute(fn func()) {
	defer func() {
		if v := recover(); v != nil {
			l.logger.WithField("panic", v).Error("hostloop: callback panicked")
		}
	}()
	fn()
}

func (l *Loop) push(queue *[]func(), fn func()) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	*queue = append(*queue, fn)
	l.mu.Unlock()

	l.notify()
	return nil
}

func (l *Loop) pop(queue *[]func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || len(*queue) == 0 {
		return nil
	}
	fn := (*queue)[0]
	(*queue)[0] = nil
	*queue = (*queue)[1:]
	return fn
}

func (l *Loop) take(queue *[]func()) []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil
	}
	fns := *queue
	*queue = nil
	return fns
}

func (l *Loop) dueTimers(now time.Time) []func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	var fns []func()
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		fns = append(fns, heap.Pop(&l.timers).(*timer).fn)
	}
	return fns
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

type timer struct {
	when  time.Time
	fn    func()
	seqNo uint64
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if !h[i].when.Equal(h[j].when) {
		return h[i].when.Before(h[j].when)
	}
	return h[i].seqNo < h[j].seqNo
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
