package tierload

import "container/heap"

// Ensure priorityHeap implements [heap.Interface].
var _ heap.Interface = (*priorityHeap)(nil)

// PriorityQueue holds pending dispatches. The [Scheduler] serializes all
// calls, so implementations need not be safe for concurrent use.
type PriorityQueue interface {
	// Enqueue adds dispatch with the given priority.
	Enqueue(priority Priority, dispatch func())

	// ExtractMin removes and returns the dispatch with the numerically
	// smallest priority. It returns false if the queue is empty.
	ExtractMin() (func(), bool)

	// Len returns the number of queued dispatches.
	Len() int
}

// NewPriorityQueue creates the default [PriorityQueue]. Dispatches with equal
// priority are extracted in the order they were enqueued.
func NewPriorityQueue() PriorityQueue {
	h := &priorityHeap{}
	heap.Init(h)
	return h
}

type priorityHeap struct {
	tasks []*task
	seqNo uint64
}

func (h *priorityHeap) Enqueue(priority Priority, dispatch func()) {
	t := &task{
		priority: priority,
		dispatch: dispatch,
		index:    -1,
		seqNo:    h.seqNo,
	}
	h.seqNo++
	heap.Push(h, t)
}

func (h *priorityHeap) ExtractMin() (func(), bool) {
	if len(h.tasks) == 0 {
		return nil, false
	}
	t := heap.Pop(h).(*task)
	return t.dispatch, true
}

// Len returns the number of queued tasks.
func (h *priorityHeap) Len() int {
	return len(h.tasks)
}

// Less orders by priority, then by enqueue order.
func (h *priorityHeap) Less(i, j int) bool {
	a, b := h.tasks[i], h.tasks[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seqNo < b.seqNo
}

// Swap swaps the tasks at indices i and j. This is used by the heap to reorder
// tasks. It should not be called directly.
func (h *priorityHeap) Swap(i, j int) {
	h.tasks[i], h.tasks[j] = h.tasks[j], h.tasks[i]
	h.tasks[i].index = i
	h.tasks[j].index = j
}

// Push adds a task to the heap. It should not be called directly.
func (h *priorityHeap) Push(x any) {
	t := x.(*task)
	t.index = len(h.tasks)
	h.tasks = append(h.tasks, t)
}

// Pop removes the last task of the heap. It should not be called directly.
func (h *priorityHeap) Pop() any {
	old := h.tasks
	n := len(old)
	t := old[n-1]
	old[n-1] = nil // avoid memory leak
	t.index = -1
	h.tasks = old[0 : n-1]
	return t
}
