package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/facetlab/facet/pkg/document"
	"github.com/facetlab/facet/pkg/expression"
)

// Operator is a compiled pipeline stage.
type Operator interface {
	fmt.Stringer
}

// LinearOp transforms one document into zero or more documents: filters emit
// zero-or-one, derivations emit one, unwinds fan out. Consecutive linear ops
// are fused into a chain and streamed, one source document at a time, so that
// cross-product expansions are never materialized across the collection.
type LinearOp interface {
	Operator
	Evaluate(doc document.Document) ([]document.Document, error)
}

// BlockingOp consumes its whole input before emitting: grouping, sorting,
// limiting and faceting.
type BlockingOp interface {
	Operator
	Process(ctx context.Context, docs []document.Document) ([]document.Document, error)
}

// MatchOp drops documents whose predicate does not evaluate to true.
type MatchOp struct {
	exp *expression.Expression
	log logr.Logger
}

func NewMatchOp(exp *expression.Expression, log logr.Logger) *MatchOp {
	return &MatchOp{exp: exp, log: log}
}

func (op *MatchOp) String() string {
	return fmt.Sprintf("match:{%s}", op.exp.String())
}

func (op *MatchOp) Evaluate(doc document.Document) ([]document.Document, error) {
	res, err := op.exp.Evaluate(expression.EvalCtx{Object: doc, Log: op.log})
	if err != nil {
		return nil, NewEvaluationError("@match", err)
	}

	b, err := expression.AsBool(res)
	if err != nil {
		return nil, NewEvaluationError("@match",
			fmt.Errorf("expected predicate to evaluate to boolean: %w", err))
	}

	if !b {
		return []document.Document{}, nil
	}

	return []document.Document{doc}, nil
}

// SetOp attaches derived fields to a document. Derivations run in order and
// each sees the fields computed by the previous ones; the input document is
// never mutated.
type SetOp struct {
	derivations []NamedExpression
	log         logr.Logger
}

func NewSetOp(derivations []NamedExpression, log logr.Logger) *SetOp {
	return &SetOp{derivations: derivations, log: log}
}

func (op *SetOp) String() string {
	return fmt.Sprintf("set:%d-fields", len(op.derivations))
}

func (op *SetOp) Evaluate(doc document.Document) ([]document.Document, error) {
	out := document.DeepCopy(doc)

	for _, d := range op.derivations {
		res, err := d.Exp.Evaluate(expression.EvalCtx{Object: out, Log: op.log})
		if err != nil {
			return nil, NewEvaluationError("@set",
				fmt.Errorf("derivation %q: %w", d.Name, err))
		}

		if err := document.Set(out, d.Name, res); err != nil {
			return nil, NewEvaluationError("@set",
				fmt.Errorf("derivation %q: %w", d.Name, err))
		}

		op.log.V(8).Info("derivation ready", "field", d.Name, "result", document.Stringify(res))
	}

	return []document.Document{out}, nil
}

// UnwindOp replaces a document with one copy per element of an array-valued
// field, the field rebound to the single element. The empty-array policy is
// configured per stage instance.
type UnwindOp struct {
	path          string
	preserveEmpty bool
	log           logr.Logger
}

func NewUnwindOp(spec *UnwindSpec, log logr.Logger) (*UnwindOp, error) {
	path, err := fieldPath(spec.Path)
	if err != nil {
		return nil, NewConfigurationError("@unwind", "invalid path %q: %v", spec.Path, err)
	}

	return &UnwindOp{path: path, preserveEmpty: spec.PreserveEmpty, log: log}, nil
}

func (op *UnwindOp) String() string {
	return fmt.Sprintf("unwind:{%s}", op.path)
}

func (op *UnwindOp) Evaluate(doc document.Document) ([]document.Document, error) {
	val, found := document.Get(doc, op.path)

	var elems []any
	if found && val != nil {
		if vs, ok := val.([]any); ok {
			elems = vs
		} else {
			// scalar field: treat as a single-element array
			elems = []any{val}
		}
	}

	if len(elems) == 0 {
		if !op.preserveEmpty {
			return []document.Document{}, nil
		}

		out := document.DeepCopy(doc)
		if err := document.Set(out, op.path, nil); err != nil {
			return nil, NewEvaluationError("@unwind", err)
		}
		return []document.Document{out}, nil
	}

	ret := make([]document.Document, 0, len(elems))
	for _, elem := range elems {
		out := document.DeepCopy(doc)
		if err := document.Set(out, op.path, document.DeepCopyAny(elem)); err != nil {
			return nil, NewEvaluationError("@unwind", err)
		}
		ret = append(ret, out)
	}

	return ret, nil
}

// ProjectOp shapes each document through a projection expression.
type ProjectOp struct {
	exp *expression.Expression
	log logr.Logger
}

func NewProjectOp(exp *expression.Expression, log logr.Logger) *ProjectOp {
	return &ProjectOp{exp: exp, log: log}
}

func (op *ProjectOp) String() string {
	return fmt.Sprintf("project:{%s}", op.exp.String())
}

func (op *ProjectOp) Evaluate(doc document.Document) ([]document.Document, error) {
	res, err := op.exp.Evaluate(expression.EvalCtx{Object: doc, Log: op.log})
	if err != nil {
		return nil, NewEvaluationError("@project", err)
	}

	out, err := expression.AsObject(res)
	if err != nil {
		return nil, NewEvaluationError("@project", err)
	}

	return []document.Document{out}, nil
}

// fieldPath converts a "$."-prefixed path reference into a dotted field path.
func fieldPath(ref string) (string, error) {
	if len(ref) > 2 && ref[0] == '$' && ref[1] == '.' {
		return ref[2:], nil
	}
	if ref == "" || ref[0] == '$' {
		return "", errors.New("expected a \"$.\"-prefixed field reference")
	}
	return ref, nil
}
