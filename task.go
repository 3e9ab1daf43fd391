package tierload

// task is a pending dispatch: the flush callback of one tier, held by the
// [PriorityQueue] between the moment the tier is ready to flush and the
// moment a sweep invokes it.
type task struct {
	priority Priority
	dispatch func()
	index    int

	// The seqNo is used to maintain the order of tasks with the same priority.
	// It is incremented each time a new task is enqueued and is immutable.
	seqNo uint64
}
