package kern

// readyHeap is a min-heap of ready tasks ordered by vruntime, one per CPU.
// Every member carries its own index so removal from any position is
// O(log n). Comparisons are wrap-safe signed differences, so the 64-bit
// vruntime counter wraps cleanly.
//
// The heap implements container/heap's Interface; kernel code goes through
// the heapPush/heapPopMin/heapRemove helpers in sched.go, which keep
// heapIndex consistent.
type readyHeap []*Task

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	return int64(h[i].vruntime-h[j].vruntime) < 0
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *readyHeap) Push(x any) {
	t := x.(*Task)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// min returns the task with the smallest vruntime without removing it.
func (h readyHeap) min() *Task {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
