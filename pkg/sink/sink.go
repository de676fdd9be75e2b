// Package sink defines the downstream consumer of a pipeline run: something
// that takes the single summary document and renders or persists it. The
// engine has no opinion on the destination.
package sink

import (
	"bytes"
	"context"
	gojson "encoding/json"
	"io"

	"k8s.io/apimachinery/pkg/util/json"

	"github.com/facetlab/facet/pkg/document"
)

// Sink consumes exactly one output document per pipeline run.
type Sink interface {
	Write(ctx context.Context, doc document.Document) error
}

// JSONSink renders the summary document as JSON onto an io.Writer.
type JSONSink struct {
	out    io.Writer
	indent bool
}

// NewJSONSink creates a sink writing compact JSON to out.
func NewJSONSink(out io.Writer) *JSONSink {
	return &JSONSink{out: out}
}

// NewIndentedJSONSink creates a sink writing indented JSON to out.
func NewIndentedJSONSink(out io.Writer) *JSONSink {
	return &JSONSink{out: out, indent: true}
}

func (s *JSONSink) Write(ctx context.Context, doc document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		b   []byte
		err error
	)
	if s.indent {
		b, err = marshalIndent(doc)
	} else {
		b, err = json.Marshal(doc)
	}
	if err != nil {
		return err
	}

	b = append(b, '\n')
	_, err = s.out.Write(b)

	return err
}

func marshalIndent(doc document.Document) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	buf := bytes.Buffer{}
	if err := gojson.Indent(&buf, b, "", "  "); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
