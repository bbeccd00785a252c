package sconcomm

import (
	"container/heap"
)

// idPool hands out correlation ids, always the smallest one not in use.
//
// Every id at or above next is free; ids below next that were released sit in
// a min-heap. Allocation and release are O(log n).
type idPool struct {
	next  uint64
	freed idHeap
	inUse int
}

func newIDPool() *idPool {
	return &idPool{}
}

// acquire returns the smallest free id and marks it in use.
func (p *idPool) acquire() uint64 {
	p.inUse++
	if p.freed.Len() > 0 {
		return heap.Pop(&p.freed).(uint64)
	}
	id := p.next
	p.next++
	return id
}

// release returns id to the pool.
func (p *idPool) release(id uint64) {
	p.inUse--
	if id+1 == p.next {
		p.next--
		return
	}
	heap.Push(&p.freed, id)
}

// len returns the number of ids in use.
func (p *idPool) len() int {
	return p.inUse
}

type idHeap []uint64

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *idHeap) Push(x any) { *h = append(*h, x.(uint64)) }

func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
