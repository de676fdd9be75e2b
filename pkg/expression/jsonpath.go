package expression

import (
	"errors"
	"fmt"

	"github.com/ohler55/ojg/jp"

	"github.com/facetlab/facet/pkg/document"
)

// GetJSONPath dereferences a "$..."-style JSONPath key against the evaluation
// context. Keys not starting with '$' are returned verbatim. "$." refers to
// the document under evaluation, "$$." to the local subject set by the list
// operators (@map, @filter).
func (e *Expression) GetJSONPath(ctx EvalCtx, key string) (any, error) {
	if len(key) == 0 || key[0] != '$' {
		return key, nil
	}

	// handle root ref "$." that is not handled by ojg/jp for some reason
	if key == "$." {
		key = "$"
	} else if key == "$$." {
		key = "$$"
	}

	subject := ctx.Object
	if len(key) >= 2 && key[0] == '$' && key[1] == '$' && ctx.Subject != nil {
		// remove first $
		key = key[1:]
		subject = ctx.Subject
	}

	ret, err := GetJSONPathExp(key, subject)
	if err != nil {
		return nil, NewExpressionError(e, err)
	}
	return ret, nil
}

// SetJSONPath sets a key (possibly a JSONPath expression) to a value in the
// given data structure. Plain keys are set verbatim on the top-level map.
func (e *Expression) SetJSONPath(ctx EvalCtx, key string, value, data any) error {
	if len(key) == 0 {
		return errors.New("empty key")
	}

	// a string value may itself be a JSONPath reference
	if str, ok := value.(string); ok {
		res, err := e.GetJSONPath(ctx, str)
		if err != nil {
			return NewExpressionError(e, err)
		}
		value = res
	}

	// root ref: overwrite the entire map in place
	if d, ok := data.(document.Document); ok && key == "$." {
		if val, ok := value.(map[string]any); ok {
			for k := range d {
				delete(d, k)
			}
			for k, v := range val {
				d[k] = v
			}
			return nil
		}
		return NewExpressionError(e, fmt.Errorf("cannot set root key \"$.\" to value %s "+
			"of type %T, only map types can be copied", document.Stringify(value), value))
	}

	if d, ok := data.(document.Document); ok && key[0] != '$' {
		d[key] = value
		return nil
	}

	if err := SetJSONPathExp(key, value, data); err != nil {
		return NewExpressionError(e, fmt.Errorf("cannot set key %q to value %s: %w",
			key, document.Stringify(value), err))
	}

	return nil
}

// GetJSONPathExp evaluates a JSONPath expression on the specified object and
// returns the result. A path that matches nothing yields nil, not an error.
func GetJSONPathExp(query string, object any) (any, error) {
	je, err := jp.ParseString(query)
	if err != nil {
		return nil, err
	}

	values := je.Get(object)
	if len(values) == 0 {
		return nil, nil
	}

	return values[0], nil
}

// SetJSONPathExp sets a key represented with a JSONPath expression to a value
// in the given data structure.
func SetJSONPathExp(key string, value, target any) error {
	je, err := jp.ParseString(key)
	if err != nil {
		return err
	}

	return je.Set(target, value)
}
