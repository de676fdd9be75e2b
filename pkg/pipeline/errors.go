package pipeline

import (
	"fmt"
)

// ConfigurationError signals a malformed pipeline description: unknown stage
// or accumulator name, invalid stage body, conflicting accumulator names.
// Raised by Validate before any document is processed.
type ConfigurationError struct {
	Stage   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("invalid pipeline: %s", e.Message)
	}
	return fmt.Sprintf("invalid %s stage: %s", e.Stage, e.Message)
}

// NewConfigurationError creates a typed configuration error for a stage.
func NewConfigurationError(stage, format string, args ...any) error {
	return &ConfigurationError{Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// EvaluationError wraps a per-document expression failure with the stage that
// hit it. In lenient mode the offending document is dropped and the error is
// logged; in strict mode it aborts the run.
type EvaluationError struct {
	Stage string
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s stage evaluation failed: %v", e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// NewEvaluationError creates a typed evaluation error.
func NewEvaluationError(stage string, err error) error {
	return &EvaluationError{Stage: stage, Err: err}
}

// FacetError reports the failure of a single facet sub-pipeline. Sibling
// facets still complete; the failing facet's result slot carries an error
// marker instead of data.
type FacetError struct {
	Facet string
	Err   error
}

func (e *FacetError) Error() string {
	return fmt.Sprintf("facet %q failed: %v", e.Facet, e.Err)
}

func (e *FacetError) Unwrap() error { return e.Err }

// NewFacetError creates a typed facet error.
func NewFacetError(facet string, err error) error {
	return &FacetError{Facet: facet, Err: err}
}
