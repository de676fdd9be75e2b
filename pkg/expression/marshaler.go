package expression

import (
	"k8s.io/apimachinery/pkg/util/json"
)

// UnmarshalJSON parses an expression from its JSON representation. Terminal
// values (bool, int, float, string) become typed literal expressions, lists
// and maps recurse, and a single-key map whose key starts with '@' becomes an
// operator node. sigs.k8s.io/yaml routes YAML configs through this decoder.
func (e *Expression) UnmarshalJSON(b []byte) error {
	// try to unmarshal as a bool terminal expression
	bv := false
	if err := json.Unmarshal(b, &bv); err == nil {
		*e = Expression{Op: "@bool", Literal: bv}
		return nil
	}

	// try to unmarshal as an int terminal expression
	var iv int64 = 0
	if err := json.Unmarshal(b, &iv); err == nil {
		*e = Expression{Op: "@int", Literal: iv}
		return nil
	}

	// try to unmarshal as a float terminal expression
	fv := 0.0
	if err := json.Unmarshal(b, &fv); err == nil {
		*e = Expression{Op: "@float", Literal: fv}
		return nil
	}

	// try to unmarshal as a string terminal expression, the empty string
	// included
	sv := ""
	if err := json.Unmarshal(b, &sv); err == nil && len(b) > 0 && b[0] == '"' {
		*e = Expression{Op: "@string", Literal: sv}
		return nil
	}

	// try to unmarshal as a literal list expression
	mv := []Expression{}
	if err := json.Unmarshal(b, &mv); err == nil {
		*e = Expression{Op: "@list", Literal: mv}
		return nil
	}

	// try to unmarshal as a map expression
	cv := map[string]Expression{}
	if err := json.Unmarshal(b, &cv); err == nil {
		// specialcase operators: an op has a single key that starts with @
		if len(cv) == 1 {
			op := ""
			for k := range cv {
				op = k
				break
			}
			if op[0] == '@' {
				exp := cv[op]
				*e = Expression{Op: op, Arg: &exp}
				return nil
			}
		}

		// literal map: store as exp with op @dict and map as Literal
		*e = Expression{Op: "@dict", Literal: cv}
		return nil
	}

	return NewUnmarshalError("expression", string(b))
}

// MarshalJSON renders an expression back into its compact JSON form.
func (e *Expression) MarshalJSON() ([]byte, error) {
	switch e.Op {
	case "@bool", "@int", "@float", "@string":
		if e.Arg != nil {
			// keep the op for a correct round-trip
			return json.Marshal(map[string]*Expression{e.Op: e.Arg})
		}
		return json.Marshal(e.Literal)

	case "@list":
		if e.Arg != nil {
			return json.Marshal(map[string]*Expression{e.Op: e.Arg})
		}
		if vs, ok := e.Literal.([]Expression); ok {
			return json.Marshal(vs)
		}
		return json.Marshal(e.Literal)

	case "@dict":
		if e.Arg != nil {
			return json.Marshal(map[string]*Expression{e.Op: e.Arg})
		}
		if vm, ok := e.Literal.(map[string]Expression); ok {
			return json.Marshal(vm)
		}
		return json.Marshal(e.Literal)

	default:
		return json.Marshal(map[string]*Expression{e.Op: e.Arg})
	}
}

func (e *Expression) String() string {
	b, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	return string(b)
}
