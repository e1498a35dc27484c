package sequencer

import "github.com/MrWong99/voxrelay/pkg/types"

// itemHeap implements [container/heap.Interface] as a min-heap on sequence
// number.
type itemHeap []types.PlaybackItem

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].Seq < h[j].Seq }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

// Push appends x. Called by [container/heap.Push] only.
func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(types.PlaybackItem))
}

// Pop removes the last element. Called by [container/heap.Pop] only.
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = types.PlaybackItem{}
	*h = old[:n-1]
	return it
}
