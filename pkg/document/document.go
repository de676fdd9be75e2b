package document

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/json"
)

// Document represents an unstructured record as map[string]any. Values can be
// embedded maps, slices, and primitives (int64, float64, string, bool, nil).
type Document = map[string]any

// Key computes a deterministic JSON representation that defines value identity
// for documents and document fragments. Used for set-dedup and group keys.
func Key(val any) (string, error) {
	canonical, err := toCanonicalForm(val)
	if err != nil {
		return "", err
	}

	bytes, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value to JSON: %w", err)
	}

	return string(bytes), nil
}

// toCanonicalForm ensures a deterministic representation, recursing through
// nested structures while preserving semantics.
func toCanonicalForm(val any) (any, error) {
	switch v := val.(type) {
	case map[string]any:
		result := make(map[string]any)
		for k, subVal := range v {
			canonical, err := toCanonicalForm(subVal)
			if err != nil {
				return nil, fmt.Errorf("failed to canonicalize map field %q: %w", k, err)
			}
			result[k] = canonical
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, subVal := range v {
			canonical, err := toCanonicalForm(subVal)
			if err != nil {
				return nil, fmt.Errorf("failed to canonicalize array element at index %d: %w", i, err)
			}
			result[i] = canonical
		}
		return result, nil

	case int64, float64, string, bool, nil:
		return v, nil

	default:
		return v, nil
	}
}

// DeepEqual checks whether two documents are equal using canonical JSON
// comparison.
func DeepEqual(a, b Document) (bool, error) {
	keyA, err := Key(a)
	if err != nil {
		return false, err
	}

	keyB, err := Key(b)
	if err != nil {
		return false, err
	}

	return keyA == keyB, nil
}

// DeepCopyAny creates a deep copy of a document fragment.
func DeepCopyAny(val any) any {
	switch v := val.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, subVal := range v {
			result[k] = DeepCopyAny(subVal)
		}
		return result

	case []any:
		result := make([]any, len(v))
		for i, subVal := range v {
			result[i] = DeepCopyAny(subVal)
		}
		return result

	default:
		// primitives copy directly
		return v
	}
}

// DeepCopy creates a deep copy of a document.
func DeepCopy(doc Document) Document {
	if doc == nil {
		return nil
	}
	return DeepCopyAny(doc).(map[string]any)
}

// Get resolves a dotted path (e.g. "imdb.rating") through nested maps. The
// second return value reports whether the full path exists: a missing
// intermediate or leaf key yields false ("absent"), which is distinct from a
// present nil value.
func Get(doc Document, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Set binds a dotted path to a value, creating intermediate maps as needed.
// Intermediate non-map values are overwritten.
func Set(doc Document, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value

	return nil
}

// Stringify renders a value as compact JSON for logging and error messages.
func Stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}
