package fetcher

import "container/heap"

// rangeTask is one pending sub-range in the splitter's work queue.
type rangeTask struct {
	width int64 // end - start, the heap priority
	seq   uint64
	start int64
	end   int64
}

// rangeHeap is a max-heap over range width with a FIFO tie-break on seq,
// keeping the ordering total and deterministic for equal-width ranges.
type rangeHeap []rangeTask

func (h rangeHeap) Len() int { return len(h) }

func (h rangeHeap) Less(i, j int) bool {
	if h[i].width != h[j].width {
		return h[i].width > h[j].width
	}
	return h[i].seq < h[j].seq
}

func (h rangeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *rangeHeap) Push(x any) {
	*h = append(*h, x.(rangeTask))
}

func (h *rangeHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	*h = old[:n-1]
	return task
}

// taskQueue wraps rangeHeap with a monotonic sequence counter so callers
// push plain ranges and always pop the widest pending one.
type taskQueue struct {
	h   rangeHeap
	seq uint64
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	heap.Init(&q.h)
	return q
}

func (q *taskQueue) push(start, end int64) {
	heap.Push(&q.h, rangeTask{
		width: end - start,
		seq:   q.seq,
		start: start,
		end:   end,
	})
	q.seq++
}

func (q *taskQueue) pop() (rangeTask, bool) {
	if q.h.Len() == 0 {
		return rangeTask{}, false
	}
	return heap.Pop(&q.h).(rangeTask), true
}

func (q *taskQueue) len() int { return q.h.Len() }
