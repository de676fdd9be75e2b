package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/facetlab/facet/pkg/document"
	"github.com/facetlab/facet/pkg/sink"
	"github.com/facetlab/facet/pkg/source"
)

// Clock supplies the timestamps of a run summary. Injectable for tests.
type Clock func() time.Time

// Runner executes analyses and writes the summarized report to a sink. A
// Runner holds no per-run state and may be shared.
type Runner struct {
	clock Clock
	newID func() string
	log   logr.Logger
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithClock replaces the wall clock.
func WithClock(clock Clock) RunnerOption {
	return func(r *Runner) { r.clock = clock }
}

// WithIDGenerator replaces the run id generator.
func WithIDGenerator(newID func() string) RunnerOption {
	return func(r *Runner) { r.newID = newID }
}

// NewRunner creates a Runner logging through log.
func NewRunner(log logr.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		clock: time.Now,
		newID: uuid.NewString,
		log:   log.WithName("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run streams src through the analysis pipeline, attaches the run summary to
// the report and writes it to dst. The report is also returned so callers can
// inspect it without a capturing sink.
func (r *Runner) Run(ctx context.Context, analysis *Analysis, src source.Source, dst sink.Sink) (document.Document, error) {
	start := r.clock()
	runID := r.newID()
	log := r.log.WithValues("analysis", analysis.Name(), "run-id", runID)

	log.V(1).Info("starting run")

	counted := source.NewCountingSource(src)
	results, err := analysis.pipeline.RunSource(ctx, counted)
	if err != nil {
		return nil, fmt.Errorf("analysis %q: %w", analysis.Name(), err)
	}

	report := assembleReport(results)
	report["summary"] = map[string]any{
		"analysis":       analysis.Name(),
		"runID":          runID,
		"documentCount":  counted.Count(),
		"resultCounts":   resultCounts(report),
		"generatedAt":    start.UTC().Format(time.RFC3339),
		"durationMillis": r.clock().Sub(start).Milliseconds(),
	}

	if err := dst.Write(ctx, report); err != nil {
		return nil, fmt.Errorf("analysis %q: cannot write report: %w", analysis.Name(), err)
	}

	log.V(1).Info("run finished", "input-documents", counted.Count())

	return report, nil
}

// assembleReport normalizes the pipeline output into a single report
// document. Pipelines ending in a facet stage emit exactly one document;
// anything else is wrapped under a "results" field.
func assembleReport(results []document.Document) document.Document {
	if len(results) == 1 {
		return results[0]
	}

	anyResults := make([]any, 0, len(results))
	for _, doc := range results {
		anyResults = append(anyResults, doc)
	}

	return document.Document{"results": anyResults}
}

// resultCounts reports the number of result records per report field.
func resultCounts(report document.Document) map[string]any {
	counts := map[string]any{}
	for name, val := range report {
		if list, ok := val.([]any); ok {
			counts[name] = int64(len(list))
		}
	}
	return counts
}
