package queue

import "container/heap"

// heapItem is one (priority, seq, taskID) entry: smaller priority wins,
// ties broken by insertion order.
type heapItem struct {
	priority int
	seq      uint64
	taskID   string
}

type priorityHeap []heapItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(heapItem))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func newPriorityHeap() *priorityHeap {
	h := &priorityHeap{}
	heap.Init(h)
	return h
}

func (h *priorityHeap) pushItem(item heapItem) {
	heap.Push(h, item)
}

func (h *priorityHeap) popItem() (heapItem, bool) {
	if h.Len() == 0 {
		return heapItem{}, false
	}
	return heap.Pop(h).(heapItem), true
}
