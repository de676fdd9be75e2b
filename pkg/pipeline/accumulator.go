package pipeline

import (
	"math"

	"github.com/facetlab/facet/pkg/document"
)

// accumulator is the per-group state of one named aggregation. Absent values
// (nil) never contribute, so a group with zero contributions yields an absent
// result rather than a zero or a division failure (except @sum and @count,
// which default to zero).
type accumulator interface {
	absorb(val any)
	result() (any, bool)
}

func newAccumulator(spec Accumulator) accumulator {
	switch spec.Op {
	case "@sum":
		return &sumAccumulator{}
	case "@avg":
		return &avgAccumulator{}
	case "@stdDevPop":
		return &stdDevAccumulator{}
	case "@min":
		return &extremeAccumulator{min: true}
	case "@max":
		return &extremeAccumulator{}
	case "@count":
		return &countAccumulator{}
	case "@first":
		return &firstAccumulator{}
	case "@addToSet":
		return &setAccumulator{seen: map[string]struct{}{}}
	case "@push":
		return &pushAccumulator{}
	case "@topN":
		return &topNAccumulator{heap: newTopNHeap(spec.TopN.N, spec.TopN.SortBy)}
	default:
		// unreachable: accumulator ops are validated at parse time
		return &countAccumulator{}
	}
}

type countAccumulator struct {
	n int64
}

func (a *countAccumulator) absorb(any) { a.n++ }

func (a *countAccumulator) result() (any, bool) { return a.n, true }

type sumAccumulator struct {
	ints    int64
	floats  float64
	isFloat bool
}

func (a *sumAccumulator) absorb(val any) {
	switch v := val.(type) {
	case int64:
		a.ints += v
	case float64:
		a.floats += v
		a.isFloat = true
	}
}

func (a *sumAccumulator) result() (any, bool) {
	if a.isFloat {
		return a.floats + float64(a.ints), true
	}
	return a.ints, true
}

type avgAccumulator struct {
	sum   float64
	count int64
}

func (a *avgAccumulator) absorb(val any) {
	switch v := val.(type) {
	case int64:
		a.sum += float64(v)
		a.count++
	case float64:
		a.sum += v
		a.count++
	}
}

func (a *avgAccumulator) result() (any, bool) {
	if a.count == 0 {
		return nil, false
	}
	return a.sum / float64(a.count), true
}

// stdDevAccumulator computes the population standard deviation with Welford's
// online algorithm, so a single streaming pass stays numerically stable.
type stdDevAccumulator struct {
	count int64
	mean  float64
	m2    float64
}

func (a *stdDevAccumulator) absorb(val any) {
	var f float64
	switch v := val.(type) {
	case int64:
		f = float64(v)
	case float64:
		f = v
	default:
		return
	}

	a.count++
	delta := f - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (f - a.mean)
}

func (a *stdDevAccumulator) result() (any, bool) {
	if a.count == 0 {
		return nil, false
	}
	return math.Sqrt(a.m2 / float64(a.count)), true
}

type extremeAccumulator struct {
	min bool
	cur any
	has bool
}

func (a *extremeAccumulator) absorb(val any) {
	if val == nil {
		return
	}

	if !a.has {
		a.cur, a.has = val, true
		return
	}

	c := compareValues(val, a.cur)
	if (a.min && c < 0) || (!a.min && c > 0) {
		a.cur = val
	}
}

func (a *extremeAccumulator) result() (any, bool) { return a.cur, a.has }

type firstAccumulator struct {
	val any
	has bool
}

func (a *firstAccumulator) absorb(val any) {
	if a.has || val == nil {
		return
	}
	a.val, a.has = val, true
}

func (a *firstAccumulator) result() (any, bool) { return a.val, a.has }

type setAccumulator struct {
	seen map[string]struct{}
	vals []any
}

func (a *setAccumulator) absorb(val any) {
	if val == nil {
		return
	}

	key, err := document.Key(val)
	if err != nil {
		return
	}

	if _, dup := a.seen[key]; dup {
		return
	}
	a.seen[key] = struct{}{}
	a.vals = append(a.vals, val)
}

func (a *setAccumulator) result() (any, bool) {
	if a.vals == nil {
		return []any{}, true
	}
	return a.vals, true
}

type pushAccumulator struct {
	vals []any
}

func (a *pushAccumulator) absorb(val any) {
	if val == nil {
		return
	}
	a.vals = append(a.vals, val)
}

func (a *pushAccumulator) result() (any, bool) {
	if a.vals == nil {
		return []any{}, true
	}
	return a.vals, true
}

type topNAccumulator struct {
	heap *topNHeap
}

func (a *topNAccumulator) offer(item *topNItem) { a.heap.offer(item) }

func (a *topNAccumulator) absorb(any) {}

func (a *topNAccumulator) result() (any, bool) { return a.heap.result(), true }
