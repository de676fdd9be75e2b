package source

import "context"

// CountingSource wraps a Source and counts the documents handed out. Used by
// the analysis runner to report the input size without a separate pass.
type CountingSource struct {
	Source
	count int64
}

// NewCountingSource wraps src.
func NewCountingSource(src Source) *CountingSource {
	return &CountingSource{Source: src}
}

func (s *CountingSource) Next(ctx context.Context) (map[string]any, error) {
	doc, err := s.Source.Next(ctx)
	if err == nil {
		s.count++
	}
	return doc, err
}

// Count returns the number of documents read so far.
func (s *CountingSource) Count() int64 { return s.count }
