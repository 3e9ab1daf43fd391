// Package tierload implements a priority ordered batch loader.
//
// A [Scheduler] hands out one batching loader per priority tier.
// Tiers do not flush on their own timing: when a tier has collected a batch
// it is queued, and a single deferred sweep flushes every queued tier in
// priority order, lower values first. Loads issued against several tiers in
// the same turn therefore resolve in priority order, not in the order they
// were issued.
//
// Sweeps run on an [Executor]. The default waits [DefaultWindow] on a timer;
// [HostExecutor] runs sweeps on a cooperative host such as
// [github.com/tomasbasham/tierload/hostloop.Loop], and [ManualExecutor] lets
// tests decide exactly when a sweep runs.
package tierload
