package tierload

import "time"

// MetricsHook defines hooks for monitoring tier creation, dispatch and sweep
// events. Hooks are called synchronously and must not block.
type MetricsHook interface {
	OnTierCreated(priority Priority)
	OnEnqueue(priority Priority)
	OnDispatch(priority Priority, wait time.Duration)
	OnSweep(dispatched int, elapsed time.Duration)
	OnPanic(priority Priority, v any)
}

type noopMetrics struct{}

func (noopMetrics) OnTierCreated(Priority)             {}
func (noopMetrics) OnEnqueue(Priority)                 {}
func (noopMetrics) OnDispatch(Priority, time.Duration) {}
func (noopMetrics) OnSweep(int, time.Duration)         {}
func (noopMetrics) OnPanic(Priority, any)              {}
