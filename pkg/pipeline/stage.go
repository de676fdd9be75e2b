package pipeline

import (
	gojson "encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"k8s.io/apimachinery/pkg/util/json"
	"sigs.k8s.io/yaml"

	"github.com/facetlab/facet/pkg/expression"
)

// Config is the declarative form of a pipeline: an ordered list of stages,
// each a single-key map from a stage operator to its body. Usually written in
// YAML and decoded through sigs.k8s.io/yaml.
type Config []Stage

// ParseConfig decodes a YAML (or JSON) pipeline description.
func ParseConfig(data []byte) (Config, error) {
	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, NewConfigurationError("", "cannot parse pipeline: %v", err)
	}
	return config, nil
}

// NamedExpression is one field derivation of a @set stage. Derivations are
// ordered: later ones see the fields attached by earlier ones.
type NamedExpression struct {
	Name string
	Exp  expression.Expression
}

// UnwindSpec configures an @unwind stage. PreserveEmpty selects whether a
// document with an empty or absent array is dropped (false) or passed through
// once with the field set to null (true).
type UnwindSpec struct {
	Path          string `mapstructure:"path"`
	PreserveEmpty bool   `mapstructure:"preserveEmpty"`
}

// SortKey is one key of a @sort stage or @topN accumulator. Order is "asc" or
// "desc"; when omitted, @sort defaults to ascending and @topN to descending.
type SortKey struct {
	Key   string `json:"key"`
	Order string `json:"order,omitempty"`
}

// TopNSpec configures a @topN accumulator: retain the n best member records
// by the sort keys, ties broken by arrival order. Output, when given, is
// evaluated on each member to shape the retained record.
type TopNSpec struct {
	N      int64                  `json:"n"`
	SortBy []SortKey              `json:"sortBy"`
	Output *expression.Expression `json:"output,omitempty"`
}

// Accumulator is one named aggregation of a @group stage.
type Accumulator struct {
	Op   string
	Arg  *expression.Expression
	TopN *TopNSpec
}

// UnmarshalJSON parses the single-key accumulator form, e.g.
// {"@avg": "$.imdb.rating"} or {"@topN": {"n": 3, "sortBy": [...]}}.
func (a *Accumulator) UnmarshalJSON(b []byte) error {
	cv := map[string]gojson.RawMessage{}
	if err := json.Unmarshal(b, &cv); err != nil {
		return NewConfigurationError("@group", "invalid accumulator %q: %v", string(b), err)
	}

	if len(cv) != 1 {
		return NewConfigurationError("@group",
			"accumulator must be a single-key operator map: %q", string(b))
	}

	for op, raw := range cv {
		if len(op) == 0 || op[0] != '@' {
			return NewConfigurationError("@group", "unknown accumulator %q", op)
		}

		a.Op = op
		switch op {
		case "@topN":
			spec := TopNSpec{}
			if err := gojson.Unmarshal(raw, &spec); err != nil {
				return NewConfigurationError("@group", "invalid @topN spec: %v", err)
			}
			a.TopN = &spec

		case "@sum", "@avg", "@stdDevPop", "@min", "@max", "@count", "@first", "@addToSet", "@push":
			exp := expression.Expression{}
			if err := exp.UnmarshalJSON(raw); err != nil {
				return NewConfigurationError("@group", "invalid %s argument: %v", op, err)
			}
			a.Arg = &exp

		default:
			return NewConfigurationError("@group", "unknown accumulator %q", op)
		}
	}

	return nil
}

// GroupSpec configures a @group stage. By is the key spec: an ordered-by-name
// set of key fields, each bound to an expression (usually a "$." path ref).
type GroupSpec struct {
	By         map[string]expression.Expression `json:"by"`
	Accumulate map[string]Accumulator           `json:"accumulate,omitempty"`
}

// Stage is one tagged pipeline stage. Exactly one of the typed bodies is set,
// selected by Op.
type Stage struct {
	Op      string
	Match   *expression.Expression
	Set     []NamedExpression
	Unwind  *UnwindSpec
	Group   *GroupSpec
	Facet   map[string]Config
	Sort    []SortKey
	Limit   int64
	Project *expression.Expression
}

// UnmarshalJSON parses a stage from its single-key map form.
func (s *Stage) UnmarshalJSON(b []byte) error {
	cv := map[string]gojson.RawMessage{}
	if err := json.Unmarshal(b, &cv); err != nil {
		return NewConfigurationError("", "stage must be a single-key operator map: %q", string(b))
	}

	if len(cv) != 1 {
		return NewConfigurationError("", "stage must be a single-key operator map: %q", string(b))
	}

	var op string
	var raw gojson.RawMessage
	for k, v := range cv {
		op, raw = k, v
	}

	s.Op = op
	switch op {
	case "@match", "@project":
		exp := expression.Expression{}
		if err := exp.UnmarshalJSON(raw); err != nil {
			return NewConfigurationError(op, "invalid expression: %v", err)
		}
		if op == "@match" {
			s.Match = &exp
		} else {
			s.Project = &exp
		}

	case "@set":
		// an ordered list of single-entry derivation maps
		items := []map[string]expression.Expression{}
		if err := gojson.Unmarshal(raw, &items); err != nil {
			return NewConfigurationError(op, "expected a list of single-entry maps: %v", err)
		}

		for _, item := range items {
			if len(item) != 1 {
				return NewConfigurationError(op,
					"each derivation must bind exactly one field, got %d", len(item))
			}
			for name, exp := range item {
				s.Set = append(s.Set, NamedExpression{Name: name, Exp: exp})
			}
		}

	case "@unwind":
		// accept either a bare path string or a full spec map
		path := ""
		if err := json.Unmarshal(raw, &path); err == nil && path != "" {
			s.Unwind = &UnwindSpec{Path: path}
			break
		}

		body := map[string]any{}
		if err := json.Unmarshal(raw, &body); err != nil {
			return NewConfigurationError(op, "invalid spec: %v", err)
		}

		spec := UnwindSpec{}
		if err := mapstructure.Decode(body, &spec); err != nil {
			return NewConfigurationError(op, "invalid spec: %v", err)
		}
		s.Unwind = &spec

	case "@group":
		spec := GroupSpec{}
		if err := gojson.Unmarshal(raw, &spec); err != nil {
			return NewConfigurationError(op, "invalid spec: %v", err)
		}
		s.Group = &spec

	case "@facet":
		facets := map[string]Config{}
		if err := gojson.Unmarshal(raw, &facets); err != nil {
			return NewConfigurationError(op, "invalid facet map: %v", err)
		}
		s.Facet = facets

	case "@sort":
		keys := []SortKey{}
		if err := gojson.Unmarshal(raw, &keys); err != nil {
			return NewConfigurationError(op, "expected a sort key list: %v", err)
		}
		s.Sort = keys

	case "@limit":
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return NewConfigurationError(op, "expected an integer: %v", err)
		}
		s.Limit = n

	default:
		return NewConfigurationError("", "unknown stage %q", op)
	}

	return nil
}

// String returns the stage operator for logging.
func (s *Stage) String() string { return s.Op }

// validate runs the semantic checks that the type-driven decoding cannot
// express. Called by New before compiling the stage list.
func (s *Stage) validate() error {
	switch s.Op {
	case "@match":
		if s.Match == nil {
			return NewConfigurationError(s.Op, "missing predicate")
		}

	case "@set":
		if len(s.Set) == 0 {
			return NewConfigurationError(s.Op, "no derivations")
		}

	case "@unwind":
		if s.Unwind == nil || s.Unwind.Path == "" {
			return NewConfigurationError(s.Op, "missing path")
		}

	case "@group":
		if s.Group == nil || len(s.Group.By) == 0 {
			return NewConfigurationError(s.Op, "missing group key spec")
		}
		for name, acc := range s.Group.Accumulate {
			if _, conflict := s.Group.By[name]; conflict {
				return NewConfigurationError(s.Op,
					"accumulator %q conflicts with a group key field", name)
			}
			if acc.Op == "@topN" {
				if acc.TopN == nil || acc.TopN.N < 1 {
					return NewConfigurationError(s.Op, "accumulator %q: @topN needs n >= 1", name)
				}
				if len(acc.TopN.SortBy) == 0 {
					return NewConfigurationError(s.Op, "accumulator %q: @topN needs sort keys", name)
				}
				for _, key := range acc.TopN.SortBy {
					if err := validateOrder(key.Order); err != nil {
						return NewConfigurationError(s.Op, "accumulator %q: %v", name, err)
					}
				}
			}
		}

	case "@facet":
		if len(s.Facet) == 0 {
			return NewConfigurationError(s.Op, "no facets")
		}
		for name, sub := range s.Facet {
			for i := range sub {
				if sub[i].Op == "@facet" {
					return NewConfigurationError(s.Op, "facet %q: facets cannot nest", name)
				}
				if err := sub[i].validate(); err != nil {
					return NewConfigurationError(s.Op, "facet %q: %v", name, err)
				}
			}
		}

	case "@sort":
		if len(s.Sort) == 0 {
			return NewConfigurationError(s.Op, "no sort keys")
		}
		for _, key := range s.Sort {
			if err := validateOrder(key.Order); err != nil {
				return NewConfigurationError(s.Op, "key %q: %v", key.Key, err)
			}
		}

	case "@limit":
		if s.Limit < 0 {
			return NewConfigurationError(s.Op, "negative limit %d", s.Limit)
		}

	case "@project":
		if s.Project == nil {
			return NewConfigurationError(s.Op, "missing projection expression")
		}
	}

	return nil
}

func validateOrder(order string) error {
	switch order {
	case "", "asc", "desc":
		return nil
	default:
		return fmt.Errorf("invalid sort order %q", order)
	}
}
