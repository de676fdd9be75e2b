// Package source defines the upstream document source contract of the
// pipeline engine together with a pair of simple adapters. The engine consumes
// a source purely as a forward iterator: no write access, no rewind.
package source

import (
	"context"
	"fmt"
	"io"
)

// ErrStop is the sentinel returned by Next when the source is exhausted.
var ErrStop = io.EOF

// Error is a typed source failure. A pipeline run that hits a source error
// aborts as a whole: partial results are never returned.
type Error struct {
	Collection string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("document source %q failed: %v", e.Collection, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewSourceError creates a typed source error.
func NewSourceError(collection string, err error) error {
	return &Error{Collection: collection, Err: err}
}

// Source yields the documents of a named collection one by one. Next returns
// ErrStop after the last document. Implementations must honor context
// cancellation.
type Source interface {
	// Name returns the collection name.
	Name() string
	// Next returns the next document or ErrStop when exhausted.
	Next(ctx context.Context) (map[string]any, error)
	io.Closer
}
