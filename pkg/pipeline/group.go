package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/facetlab/facet/pkg/document"
	"github.com/facetlab/facet/pkg/expression"
)

// unsetType is the distinguished value of a group key whose field is absent
// from a document. Not merged with a true null key value.
type unsetType struct{}

var unsetKey = unsetType{}

// GroupOp aggregates documents by a composite key and applies the configured
// accumulators per group. Documents are absorbed one at a time so that a
// streamed expansion never has to be materialized before grouping.
type GroupOp struct {
	spec     *GroupSpec
	keyNames []string          // sorted, for a deterministic composite identity
	keyPaths map[string]string // key name -> dotted path for plain "$." refs
	accNames []string          // sorted accumulator names
	groups   map[string]*groupState
	order    []string // group identities in arrival order
	seq      int
	log      logr.Logger
}

type groupState struct {
	key  map[string]any // key name -> value or unsetKey
	accs map[string]accumulator
}

func NewGroupOp(spec *GroupSpec, log logr.Logger) (*GroupOp, error) {
	op := &GroupOp{
		spec:     spec,
		keyPaths: map[string]string{},
		groups:   map[string]*groupState{},
		log:      log,
	}

	for name, exp := range spec.By {
		op.keyNames = append(op.keyNames, name)
		if path, ok := pathRef(&exp); ok {
			op.keyPaths[name] = path
		}
	}
	sort.Strings(op.keyNames)

	for name := range spec.Accumulate {
		op.accNames = append(op.accNames, name)
	}
	sort.Strings(op.accNames)

	return op, nil
}

func (op *GroupOp) String() string {
	return fmt.Sprintf("group:%d-keys:%d-accumulators", len(op.keyNames), len(op.accNames))
}

// Absorb folds one document into its group. The group identity is computed
// exactly once per incoming document.
func (op *GroupOp) Absorb(doc document.Document) error {
	key, identity, err := op.identify(doc)
	if err != nil {
		return err
	}

	// evaluate all accumulator contributions before committing any, so that a
	// failing expression leaves the group state untouched
	contribs := make([]any, len(op.accNames))
	items := make([]*topNItem, len(op.accNames))
	for i, name := range op.accNames {
		acc := op.spec.Accumulate[name]
		if acc.Op == "@count" {
			continue
		}

		if acc.Op == "@topN" {
			item, err := op.topNItemOf(doc, acc.TopN)
			if err != nil {
				return NewEvaluationError("@group", fmt.Errorf("accumulator %q: %w", name, err))
			}
			items[i] = item
			continue
		}

		val, err := acc.Arg.Evaluate(expression.EvalCtx{Object: doc, Log: op.log})
		if err != nil {
			return NewEvaluationError("@group", fmt.Errorf("accumulator %q: %w", name, err))
		}
		contribs[i] = val
	}

	state, ok := op.groups[identity]
	if !ok {
		state = &groupState{key: key, accs: map[string]accumulator{}}
		for _, name := range op.accNames {
			state.accs[name] = newAccumulator(op.spec.Accumulate[name])
		}
		op.groups[identity] = state
		op.order = append(op.order, identity)
	}

	for i, name := range op.accNames {
		acc := op.spec.Accumulate[name]
		switch acc.Op {
		case "@count":
			state.accs[name].absorb(nil)
		case "@topN":
			state.accs[name].(*topNAccumulator).offer(items[i])
		default:
			state.accs[name].absorb(contribs[i])
		}
	}
	op.seq++

	return nil
}

// Flush emits one result document per group, in group arrival order, and
// resets the operator. Empty input yields an empty output, not an error.
func (op *GroupOp) Flush() []document.Document {
	ret := make([]document.Document, 0, len(op.order))
	for _, identity := range op.order {
		state := op.groups[identity]

		out := document.Document{}
		for name, val := range state.key {
			if _, isUnset := val.(unsetType); isUnset {
				continue
			}
			// dotted key names land as nested fields
			document.Set(out, name, val) //nolint:errcheck
		}

		for _, name := range op.accNames {
			if val, ok := state.accs[name].result(); ok {
				document.Set(out, name, val) //nolint:errcheck
			}
		}

		ret = append(ret, out)
	}

	op.groups = map[string]*groupState{}
	op.order = nil
	op.seq = 0

	return ret
}

func (op *GroupOp) Process(_ context.Context, docs []document.Document) ([]document.Document, error) {
	for _, doc := range docs {
		if err := op.Absorb(doc); err != nil {
			return nil, err
		}
	}
	return op.Flush(), nil
}

// identify computes the composite group key of a document: the per-field
// values and the canonical string identity. Absent fields map to the unset
// sentinel, which is omitted from the canonical form so it can never collide
// with a true null.
func (op *GroupOp) identify(doc document.Document) (map[string]any, string, error) {
	key := make(map[string]any, len(op.keyNames))
	canonical := make(map[string]any, len(op.keyNames))

	for _, name := range op.keyNames {
		if path, ok := op.keyPaths[name]; ok {
			val, found := document.Get(doc, path)
			if !found {
				key[name] = unsetKey
				continue
			}
			key[name] = val
			canonical[name] = val
			continue
		}

		exp := op.spec.By[name]
		val, err := exp.Evaluate(expression.EvalCtx{Object: doc, Log: op.log})
		if err != nil {
			return nil, "", NewEvaluationError("@group", fmt.Errorf("group key %q: %w", name, err))
		}
		key[name] = val
		canonical[name] = val
	}

	identity, err := document.Key(canonical)
	if err != nil {
		return nil, "", NewEvaluationError("@group", err)
	}

	return key, identity, nil
}

func (op *GroupOp) topNItemOf(doc document.Document, spec *TopNSpec) (*topNItem, error) {
	rank, err := rankDoc(doc, spec.SortBy, op.log)
	if err != nil {
		return nil, err
	}

	var out any = doc
	if spec.Output != nil {
		res, err := spec.Output.Evaluate(expression.EvalCtx{Object: doc, Log: op.log})
		if err != nil {
			return nil, err
		}
		out = res
	}

	return &topNItem{rank: rank, seq: op.seq, out: out}, nil
}

// pathRef recognizes a plain "$."-path expression, which lets the group key
// distinguish an absent field from a present null.
func pathRef(exp *expression.Expression) (string, bool) {
	if exp.Op != "@string" || exp.Arg != nil {
		return "", false
	}

	str, ok := exp.Literal.(string)
	if !ok || len(str) < 3 || str[0] != '$' || str[1] != '.' {
		return "", false
	}

	return str[2:], true
}
