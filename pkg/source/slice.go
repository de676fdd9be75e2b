package source

import (
	"context"

	"github.com/facetlab/facet/pkg/document"
)

// SliceSource serves an in-memory document slice. Documents are deep-copied on
// read so that pipeline stages can never mutate the caller's data.
type SliceSource struct {
	name string
	docs []document.Document
	pos  int
}

// NewSliceSource creates a source over the given documents.
func NewSliceSource(name string, docs []document.Document) *SliceSource {
	return &SliceSource{name: name, docs: docs}
}

func (s *SliceSource) Name() string { return s.name }

func (s *SliceSource) Next(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewSourceError(s.name, err)
	}

	if s.pos >= len(s.docs) {
		return nil, ErrStop
	}

	doc := document.DeepCopy(s.docs[s.pos])
	s.pos++

	return doc, nil
}

func (s *SliceSource) Close() error { return nil }
