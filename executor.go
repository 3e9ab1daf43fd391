package tierload

import (
	"errors"
	"sync"
	"time"
)

// DefaultWindow is the delay used by the default [Executor]. Loads issued
// within the window after the first ready tier are flushed in the same
// sweep.
const DefaultWindow = time.Millisecond

// ErrUnsupportedHost is returned by [HostExecutor] when the host offers no
// deferred execution primitive.
var ErrUnsupportedHost = errors.New("tierload: host has no deferred execution primitive")

// Executor runs a task after the caller's current work has unwound. A
// [Scheduler] submits at most one outstanding sweep to its executor.
type Executor interface {
	Defer(task func()) error
}

// ExecutorFunc adapts a function to an [Executor].
type ExecutorFunc func(task func()) error

// Defer calls f(task).
func (f ExecutorFunc) Defer(task func()) error {
	return f(task)
}

// TimerExecutor runs tasks on their own goroutine after d.
func TimerExecutor(d time.Duration) Executor {
	return ExecutorFunc(func(task func()) error {
		time.AfterFunc(d, task)
		return nil
	})
}

// GoExecutor runs tasks on a new goroutine without delay.
func GoExecutor() Executor {
	return ExecutorFunc(func(task func()) error {
		go task()
		return nil
	})
}

// ManualExecutor holds deferred tasks until [ManualExecutor.Flush] is
// called. It is intended for tests.
type ManualExecutor struct {
	mu    sync.Mutex
	tasks []func()
	calls int
}

func (m *ManualExecutor) Defer(task func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	m.calls++
	return nil
}

// Pending returns the number of tasks waiting for Flush.
func (m *ManualExecutor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Calls returns the number of times Defer has been called.
func (m *ManualExecutor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Flush runs pending tasks on the calling goroutine, including tasks
// deferred while flushing, and returns how many ran.
func (m *ManualExecutor) Flush() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.tasks) == 0 {
			m.mu.Unlock()
			return n
		}
		next := m.tasks[0]
		m.tasks = m.tasks[1:]
		m.mu.Unlock()

		next()
		n++
	}
}

// Host primitives recognized by [HostExecutor].
type (
	MicrotaskQueuer interface {
		QueueMicrotask(fn func()) error
	}

	NextTicker interface {
		NextTick(fn func()) error
	}

	Immediater interface {
		SetImmediate(fn func()) error
	}

	AfterFuncer interface {
		AfterFunc(d time.Duration, fn func()) error
	}
)

// HostExecutor builds an [Executor] on top of a cooperative host, picking the
// first primitive the host supports:
//
//  1. a next tick queued from a microtask, so the sweep runs after the
//     microtasks already pending in the current turn but before timers
//  2. an immediate, run on the host's next iteration
//  3. a zero delay timer
func HostExecutor(host any) (Executor, error) {
	mq, hasMicrotasks := host.(MicrotaskQueuer)
	nt, hasNextTick := host.(NextTicker)
	if hasMicrotasks && hasNextTick {
		return ExecutorFunc(func(task func()) error {
			return mq.QueueMicrotask(func() {
				// Only a stopped host refuses the tick.
				_ = nt.NextTick(task)
			})
		}), nil
	}

	if im, ok := host.(Immediater); ok {
		return ExecutorFunc(im.SetImmediate), nil
	}

	if af, ok := host.(AfterFuncer); ok {
		return ExecutorFunc(func(task func()) error {
			return af.AfterFunc(0, task)
		}), nil
	}

	return nil, ErrUnsupportedHost
}
