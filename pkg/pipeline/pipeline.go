// Package pipeline implements a declarative in-memory aggregation pipeline
// over nested documents: filtering, field derivation, array expansion,
// multi-key grouping with bounded top-N retention, and parallel faceted
// sub-aggregation. Pipelines are data (an ordered stage list, usually parsed
// from YAML) interpreted by a streaming executor.
package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/go-logr/logr"

	"github.com/facetlab/facet/pkg/document"
	"github.com/facetlab/facet/pkg/source"
)

// Pipeline is a validated, compiled stage list that knows how to evaluate
// itself over a document stream. A pipeline is stateless across runs.
type Pipeline struct {
	config Config
	ops    []Operator
	strict bool
	log    logr.Logger
}

// New validates the configuration and compiles it into an executable
// pipeline. Malformed descriptions fail here, before any document is
// processed.
func New(config Config, log logr.Logger) (*Pipeline, error) {
	if len(config) == 0 {
		return nil, NewConfigurationError("", "empty pipeline")
	}

	p := &Pipeline{config: config, log: log}
	for i := range config {
		stage := &config[i]
		if err := stage.validate(); err != nil {
			return nil, err
		}

		op, err := compileStage(stage, log)
		if err != nil {
			return nil, err
		}
		p.ops = append(p.ops, op)
	}

	return p, nil
}

// WithStrict controls the per-document expression error policy: lenient runs
// (the default) log the error and drop the offending document, strict runs
// abort.
func (p *Pipeline) WithStrict(strict bool) *Pipeline {
	p.strict = strict
	for _, op := range p.ops {
		if fop, ok := op.(*FacetOp); ok {
			fop.setStrict(strict)
		}
	}
	return p
}

func (p *Pipeline) String() string {
	ss := make([]string, len(p.ops))
	for i, op := range p.ops {
		ss[i] = op.String()
	}
	return "pipeline:[" + strings.Join(ss, ",") + "]"
}

func compileStage(s *Stage, log logr.Logger) (Operator, error) {
	switch s.Op {
	case "@match":
		return NewMatchOp(s.Match, log), nil
	case "@set":
		return NewSetOp(s.Set, log), nil
	case "@unwind":
		return NewUnwindOp(s.Unwind, log)
	case "@group":
		return NewGroupOp(s.Group, log)
	case "@facet":
		return NewFacetOp(s.Facet, log)
	case "@sort":
		return NewSortOp(s.Sort, log), nil
	case "@limit":
		return NewLimitOp(s.Limit), nil
	case "@project":
		return NewProjectOp(s.Project, log), nil
	default:
		return nil, NewConfigurationError("", "unknown stage %q", s.Op)
	}
}

// RunSource evaluates the pipeline over a document source. The source is
// consumed exactly once and streamed through the leading linear stages, so a
// cross-product expansion feeding a group never materializes whole. A source
// failure or context cancellation aborts the run: no partial results.
func (p *Pipeline) RunSource(ctx context.Context, src source.Source) ([]document.Document, error) {
	chain, rest := p.splitChain(0)

	var grp *GroupOp
	restIdx := 0
	if len(rest) > 0 {
		grp, _ = rest[0].(*GroupOp)
	}

	buffer := []document.Document{}
	emit := func(doc document.Document) error {
		if grp != nil {
			return grp.Absorb(doc)
		}
		buffer = append(buffer, doc)
		return nil
	}

	for {
		doc, err := src.Next(ctx)
		if errors.Is(err, source.ErrStop) {
			break
		}
		if err != nil {
			return nil, err
		}

		if err := p.applyChain(chain, doc, emit); err != nil {
			if p.droppable(err) {
				p.log.V(4).Info("dropping document", "reason", err.Error())
				continue
			}
			return nil, err
		}
	}

	if grp != nil {
		buffer = grp.Flush()
		restIdx = 1
	}

	return p.runOps(ctx, rest[restIdx:], buffer)
}

// Run evaluates the pipeline over an already materialized input snapshot.
// Used for facet sub-pipelines and direct engine tests.
func (p *Pipeline) Run(ctx context.Context, docs []document.Document) ([]document.Document, error) {
	return p.runOps(ctx, p.ops, docs)
}

func (p *Pipeline) runOps(ctx context.Context, ops []Operator, docs []document.Document) ([]document.Document, error) {
	i := 0
	for i < len(ops) {
		if err := ctx.Err(); err != nil {
			return nil, source.NewSourceError("pipeline", err)
		}

		// fuse a maximal run of linear ops into one streamed chain
		j := i
		for j < len(ops) {
			if _, ok := ops[j].(LinearOp); !ok {
				break
			}
			j++
		}

		if j > i {
			chain := make([]LinearOp, 0, j-i)
			for _, op := range ops[i:j] {
				chain = append(chain, op.(LinearOp))
			}

			// stream straight into a following group stage
			var grp *GroupOp
			if j < len(ops) {
				grp, _ = ops[j].(*GroupOp)
			}

			next := []document.Document{}
			emit := func(doc document.Document) error {
				if grp != nil {
					return grp.Absorb(doc)
				}
				next = append(next, doc)
				return nil
			}

			for _, doc := range docs {
				if err := p.applyChain(chain, doc, emit); err != nil {
					if p.droppable(err) {
						p.log.V(4).Info("dropping document", "reason", err.Error())
						continue
					}
					return nil, err
				}
			}

			if grp != nil {
				docs = grp.Flush()
				i = j + 1
			} else {
				docs = next
				i = j
			}
			continue
		}

		if grp, ok := ops[i].(*GroupOp); ok {
			for _, doc := range docs {
				if err := grp.Absorb(doc); err != nil {
					if p.droppable(err) {
						p.log.V(4).Info("dropping document", "reason", err.Error())
						continue
					}
					return nil, err
				}
			}
			docs = grp.Flush()
			i++
			continue
		}

		out, err := ops[i].(BlockingOp).Process(ctx, docs)
		if err != nil {
			return nil, err
		}
		docs = out
		i++
	}

	return docs, nil
}

// applyChain pushes one document through a fused linear chain, depth-first,
// invoking emit once per fully transformed output document. Expansion fan-out
// stays bounded by the per-document product.
func (p *Pipeline) applyChain(chain []LinearOp, doc document.Document, emit func(document.Document) error) error {
	if len(chain) == 0 {
		return emit(doc)
	}

	outs, err := chain[0].Evaluate(doc)
	if err != nil {
		return err
	}

	for _, out := range outs {
		if err := p.applyChain(chain[1:], out, emit); err != nil {
			return err
		}
	}

	return nil
}

// splitChain returns the maximal linear prefix starting at idx and the
// remaining operators.
func (p *Pipeline) splitChain(idx int) ([]LinearOp, []Operator) {
	chain := []LinearOp{}
	for idx < len(p.ops) {
		lop, ok := p.ops[idx].(LinearOp)
		if !ok {
			break
		}
		chain = append(chain, lop)
		idx++
	}
	return chain, p.ops[idx:]
}

// droppable reports whether an error may be handled by dropping the offending
// document. Only per-document evaluation errors qualify, and only in lenient
// mode.
func (p *Pipeline) droppable(err error) bool {
	if p.strict {
		return false
	}

	evalErr := &EvaluationError{}
	return errors.As(err, &evalErr)
}
