package executor

import "container/heap"

// readyQueue is a min-heap of runnable nodes ordered by priority, then by the
// order in which they became runnable.
type readyQueue []*nodeState

var _ heap.Interface = (*readyQueue)(nil)

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q readyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *readyQueue) Push(x any) {
	n := x.(*nodeState)
	n.heapIndex = len(*q)
	*q = append(*q, n)
}

func (q *readyQueue) Pop() any {
	old := *q
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	n.heapIndex = -1
	*q = old[:last]
	return n
}
