package pipeline

import (
	"container/heap"
	"sort"
)

// topNItem is one candidate member of a bounded top-N retention: the
// evaluated sort-key tuple, the arrival sequence number for stable
// tie-breaking, and the shaped output record.
type topNItem struct {
	rank []any
	seq  int
	out  any
}

// cmpItems orders items by final output position: sort keys first (descending
// by default for top-N), then arrival order on full ties.
func cmpItems(a, b *topNItem, keys []SortKey) int {
	if c := compareRanks(a.rank, b.rank, keys, true); c != 0 {
		return c
	}
	return a.seq - b.seq
}

// topNHeap retains the n best items using a bounded min-heap keyed by item
// strength: the root is always the current weakest member, so each candidate
// costs O(log n) and memory stays bounded for arbitrarily large groups.
type topNHeap struct {
	items []*topNItem
	keys  []SortKey
	n     int
}

func newTopNHeap(n int64, keys []SortKey) *topNHeap {
	return &topNHeap{items: []*topNItem{}, keys: keys, n: int(n)}
}

func (h *topNHeap) Len() int { return len(h.items) }

func (h *topNHeap) Less(i, j int) bool {
	// weakest at the root
	return cmpItems(h.items[i], h.items[j], h.keys) > 0
}

func (h *topNHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *topNHeap) Push(x any) { h.items = append(h.items, x.(*topNItem)) }

func (h *topNHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// offer considers one candidate. Later arrivals never displace an equally
// ranked member, which yields the stable, input-order tie-break.
func (h *topNHeap) offer(item *topNItem) {
	if len(h.items) < h.n {
		heap.Push(h, item)
		return
	}

	if cmpItems(item, h.items[0], h.keys) < 0 {
		h.items[0] = item
		heap.Fix(h, 0)
	}
}

// result returns the retained records in final order.
func (h *topNHeap) result() []any {
	items := make([]*topNItem, len(h.items))
	copy(items, h.items)

	sort.Slice(items, func(i, j int) bool {
		return cmpItems(items[i], items[j], h.keys) < 0
	})

	ret := make([]any, len(items))
	for i, item := range items {
		ret[i] = item.out
	}

	return ret
}
