package queue

import "github.com/basket/goclaw-runloop/internal/task"

// priorityHeap orders Tasks by Priority descending, then by CreatedAt
// ascending (earlier tasks win ties), matching the FIFO tiebreak the
// scheduling model promises for same-priority tasks.
type priorityHeap []task.Task

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(task.Task))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
