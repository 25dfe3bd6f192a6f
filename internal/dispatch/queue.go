package dispatch

import (
	"container/heap"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// item is one queued operation. Re-enqueued retries get a fresh sequence
// number, placing them at the tail of their priority tier.
type item struct {
	op         domain.SignedOperation
	retryCount int
	attempts   int
	gen        uint64 // queue generation at enqueue time; stale after Clear
	seq        uint64 // FIFO order within a priority tier
	index      int    // heap bookkeeping
}

// opQueue is a max-heap ordered by priority first, then FIFO within a tier.
type opQueue []*item

func (q opQueue) Len() int { return len(q) }

func (q opQueue) Less(i, j int) bool {
	if q[i].op.Intent.Priority != q[j].op.Intent.Priority {
		return q[i].op.Intent.Priority > q[j].op.Intent.Priority
	}
	return q[i].seq < q[j].seq
}

func (q opQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *opQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *opQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// push adds an item maintaining heap order.
func (q *opQueue) push(it *item) {
	heap.Push(q, it)
}

// pop removes and returns the highest-priority item, or nil when empty.
func (q *opQueue) pop() *item {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*item)
}
