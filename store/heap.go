package store

import "container/heap"

// Compile time check to ensure candidateHeap satisfies the heap interface.
var _ heap.Interface = (*candidateHeap)(nil)

// candidate pairs an entry id with its eviction score at selection time.
type candidate struct {
	id        uint32
	score     float64
	createdAt int64 // unix nanos, tie-breaker
}

// candidateHeap is a min-heap over eviction candidates: the lowest composite
// score sits on top, ties broken by oldest creation time.
type candidateHeap struct {
	items []candidate
}

func (h *candidateHeap) Len() int { return len(h.items) }

func (h *candidateHeap) Less(i, j int) bool {
	if h.items[i].score != h.items[j].score {
		return h.items[i].score < h.items[j].score
	}
	return h.items[i].createdAt < h.items[j].createdAt
}

func (h *candidateHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *candidateHeap) Push(x any) {
	h.items = append(h.items, x.(candidate))
}

func (h *candidateHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
