package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/facetlab/facet/pkg/document"
	"github.com/facetlab/facet/pkg/expression"
)

// compareValues imposes a deterministic total order on scalar values: nil
// sorts first, then numbers, strings, bools; anything else falls back to
// canonical JSON comparison.
func compareValues(a, b any) int {
	ra, rb := rankOf(a), rankOf(b)
	if ra != rb {
		return ra - rb
	}

	switch ra {
	case 0: // both nil
		return 0
	case 1: // numbers
		fa, _ := expression.AsFloat(a)
		fb, _ := expression.AsFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case 2: // strings
		return strings.Compare(a.(string), b.(string))
	case 3: // bools
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	default:
		ka, _ := document.Key(a)
		kb, _ := document.Key(b)
		return strings.Compare(ka, kb)
	}
}

func rankOf(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int, int32, int64, float32, float64:
		return 1
	case string:
		return 2
	case bool:
		return 3
	default:
		return 4
	}
}

// compareRanks compares two evaluated sort-key tuples under the given key
// directions. defaultDesc supplies the direction for keys with no explicit
// order (@sort defaults ascending, @topN descending).
func compareRanks(a, b []any, keys []SortKey, defaultDesc bool) int {
	for i := range keys {
		c := compareValues(a[i], b[i])
		if c == 0 {
			continue
		}

		desc := defaultDesc
		if keys[i].Order == "asc" {
			desc = false
		} else if keys[i].Order == "desc" {
			desc = true
		}

		if desc {
			return -c
		}
		return c
	}

	return 0
}

// rankDoc evaluates the sort keys of a document into a comparable tuple.
func rankDoc(doc document.Document, keys []SortKey, log logr.Logger) ([]any, error) {
	rank := make([]any, len(keys))
	for i, key := range keys {
		exp := expression.Expression{Op: "@string", Literal: key.Key}
		val, err := exp.Evaluate(expression.EvalCtx{Object: doc, Log: log})
		if err != nil {
			return nil, err
		}
		rank[i] = val
	}
	return rank, nil
}

// SortOp stable-sorts its input by the configured keys; ties keep the
// original relative order.
type SortOp struct {
	keys []SortKey
	log  logr.Logger
}

func NewSortOp(keys []SortKey, log logr.Logger) *SortOp {
	return &SortOp{keys: keys, log: log}
}

func (op *SortOp) String() string {
	return fmt.Sprintf("sort:%d-keys", len(op.keys))
}

func (op *SortOp) Process(_ context.Context, docs []document.Document) ([]document.Document, error) {
	ranks := make([][]any, len(docs))
	for i, doc := range docs {
		rank, err := rankDoc(doc, op.keys, op.log)
		if err != nil {
			return nil, NewEvaluationError("@sort", err)
		}
		ranks[i] = rank
	}

	idx := make([]int, len(docs))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(i, j int) bool {
		return compareRanks(ranks[idx[i]], ranks[idx[j]], op.keys, false) < 0
	})

	out := make([]document.Document, len(docs))
	for i, j := range idx {
		out[i] = docs[j]
	}

	return out, nil
}

// LimitOp retains the first n documents.
type LimitOp struct {
	n int64
}

func NewLimitOp(n int64) *LimitOp {
	return &LimitOp{n: n}
}

func (op *LimitOp) String() string {
	return fmt.Sprintf("limit:%d", op.n)
}

func (op *LimitOp) Process(_ context.Context, docs []document.Document) ([]document.Document, error) {
	if int64(len(docs)) <= op.n {
		return docs, nil
	}
	return docs[:op.n], nil
}
