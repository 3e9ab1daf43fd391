// Package loader implements a per-key batching loader with a pluggable
// schedule hook.
//
// Concurrent calls to [Loader.Load] issued within one collection window are
// grouped into a single call of the user supplied [BatchFunc]. Requests for
// the same key are deduplicated through the loader's [Cache], so a key is
// fetched at most once until it is cleared.
//
// The collection window is owned by the schedule hook: the loader calls it
// once per new batch with a dispatch callback, and the batch is flushed when
// the hook invokes that callback. By default the hook waits [DefaultWait]
// before flushing; [WithBatchScheduleFunc] replaces it, which is how a
// priority scheduler takes over the flush timing of many loaders.
package loader
