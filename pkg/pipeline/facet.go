package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/facetlab/facet/pkg/document"
)

// FacetOp runs several independent sub-pipelines over the same frozen input
// snapshot, one goroutine per facet, and joins their results into a single
// document mapping facet name to result list. Facets never mutate the shared
// input: every transforming stage is copy-on-write. A failing facet leaves an
// error marker in its slot while sibling facets still complete.
type FacetOp struct {
	names []string
	subs  map[string]*Pipeline
	log   logr.Logger
}

func NewFacetOp(facets map[string]Config, log logr.Logger) (*FacetOp, error) {
	op := &FacetOp{subs: map[string]*Pipeline{}, log: log}

	for name, config := range facets {
		sub, err := New(config, log.WithName(name))
		if err != nil {
			return nil, NewConfigurationError("@facet", "facet %q: %v", name, err)
		}
		op.names = append(op.names, name)
		op.subs[name] = sub
	}
	sort.Strings(op.names)

	return op, nil
}

func (op *FacetOp) String() string {
	return fmt.Sprintf("facet:%d-pipelines", len(op.names))
}

// setStrict forwards the per-document error policy to the sub-pipelines.
func (op *FacetOp) setStrict(strict bool) {
	for _, sub := range op.subs {
		sub.WithStrict(strict)
	}
}

func (op *FacetOp) Process(ctx context.Context, docs []document.Document) ([]document.Document, error) {
	results := make([][]document.Document, len(op.names))
	failures := make([]error, len(op.names))

	g := errgroup.Group{}
	for i, name := range op.names {
		i, name := i, name
		sub := op.subs[name]
		g.Go(func() error {
			res, err := sub.Run(ctx, docs)
			if err != nil {
				failures[i] = NewFacetError(name, err)
				return nil // siblings must still complete
			}
			results[i] = res
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	// a context abort fails the whole stage, not just one facet
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := document.Document{}
	for i, name := range op.names {
		if err := failures[i]; err != nil {
			op.log.Error(err, "facet failed", "facet", name)
			out[name] = map[string]any{"error": err.Error()}
			continue
		}

		vs := make([]any, len(results[i]))
		for j, doc := range results[i] {
			vs[j] = doc
		}
		out[name] = vs
	}

	return []document.Document{out}, nil
}
