// Package analytics bundles the ready-made analyses shipped with the engine.
// Each analysis is a declarative pipeline compiled from an embedded YAML
// description, plus a runner that streams a source through it and attaches a
// run summary to the resulting report.
package analytics

import (
	"embed"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/facetlab/facet/pkg/pipeline"
)

//go:embed config/movies.yaml config/listings.yaml
var configFS embed.FS

// Analysis is a named, compiled pipeline ready to run against a source.
type Analysis struct {
	name     string
	pipeline *pipeline.Pipeline
}

// New compiles the named built-in analysis. Known names are "movies" and
// "listings".
func New(name string, log logr.Logger) (*Analysis, error) {
	switch name {
	case "movies", "listings":
	default:
		return nil, fmt.Errorf("unknown analysis %q", name)
	}

	data, err := configFS.ReadFile("config/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("cannot load analysis %q: %w", name, err)
	}

	return NewFromConfig(name, data, log)
}

// NewFromConfig compiles an analysis from a YAML pipeline description. The
// configuration is validated eagerly so that a broken description fails at
// startup, not mid-run.
func NewFromConfig(name string, data []byte, log logr.Logger) (*Analysis, error) {
	config, err := pipeline.ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("analysis %q: %w", name, err)
	}

	p, err := pipeline.New(config, log.WithName(name))
	if err != nil {
		return nil, fmt.Errorf("analysis %q: %w", name, err)
	}

	return &Analysis{name: name, pipeline: p}, nil
}

// Name returns the analysis name.
func (a *Analysis) Name() string { return a.name }

// WithStrict switches the underlying pipeline between strict and lenient
// per-document error handling.
func (a *Analysis) WithStrict(strict bool) *Analysis {
	a.pipeline.WithStrict(strict)
	return a
}

// Pipeline exposes the compiled pipeline.
func (a *Analysis) Pipeline() *pipeline.Pipeline { return a.pipeline }
