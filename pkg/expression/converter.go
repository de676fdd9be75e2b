package expression

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/facetlab/facet/pkg/document"
)

func IsList(d any) bool {
	dv := reflect.ValueOf(d)
	return dv.Kind() == reflect.Slice || dv.Kind() == reflect.Array
}

func AsList(d any) ([]any, error) {
	if !IsList(d) {
		return nil, fmt.Errorf("argument is not a list: %s", document.Stringify(d))
	}

	ret, ok := d.([]any)
	if !ok {
		return nil, fmt.Errorf("failed to convert argument into a list: %s", document.Stringify(d))
	}

	return ret, nil
}

func AsBool(d any) (bool, error) {
	if d == nil {
		return false, errors.New("argument is nil")
	}

	if reflect.ValueOf(d).Kind() == reflect.Bool {
		return reflect.ValueOf(d).Bool(), nil
	}
	return false, fmt.Errorf("argument is not a boolean: %s", document.Stringify(d))
}

func AsBoolList(d any) ([]bool, error) {
	if !IsList(d) {
		return []bool{}, fmt.Errorf("argument is not a list: %s", document.Stringify(d))
	}

	dv := reflect.ValueOf(d)
	ret := []bool{}
	for i := 0; i < dv.Len(); i++ {
		arg, err := AsBool(dv.Index(i).Interface())
		if err != nil {
			return []bool{}, err
		}
		ret = append(ret, arg)
	}
	return ret, nil
}

func AsString(d any) (string, error) {
	if d == nil {
		return "", errors.New("argument is nil")
	}

	switch reflect.ValueOf(d).Kind() { //nolint:exhaustive
	case reflect.String:
		return reflect.ValueOf(d).String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(reflect.ValueOf(d).Int(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(reflect.ValueOf(d).Float(), 'f', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(reflect.ValueOf(d).Bool()), nil
	}

	return "", fmt.Errorf("argument is not a string: %s", document.Stringify(d))
}

func AsStringList(d any) ([]string, error) {
	if !IsList(d) {
		return []string{}, fmt.Errorf("argument is not a list: %s", document.Stringify(d))
	}

	dv := reflect.ValueOf(d)
	ret := []string{}
	for i := 0; i < dv.Len(); i++ {
		arg, err := AsString(dv.Index(i).Interface())
		if err != nil {
			return []string{}, err
		}
		ret = append(ret, arg)
	}
	return ret, nil
}

func AsInt(d any) (int64, error) {
	if d == nil {
		return 0, errors.New("argument is nil")
	}

	switch reflect.ValueOf(d).Kind() { //nolint:exhaustive
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return reflect.ValueOf(d).Int(), nil
	case reflect.String:
		i, err := strconv.ParseInt(d.(string), 10, 64)
		if err == nil {
			return i, nil
		}
	}

	return 0, fmt.Errorf("argument is not an int: %s", document.Stringify(d))
}

func AsFloat(d any) (float64, error) {
	if d == nil {
		return 0.0, errors.New("argument is nil")
	}

	dv := reflect.ValueOf(d)
	switch dv.Kind() { //nolint:exhaustive
	case reflect.Float32, reflect.Float64:
		return dv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(dv.Int()), nil
	case reflect.String:
		f, err := strconv.ParseFloat(d.(string), 64)
		if err == nil {
			return f, nil
		}
	}

	return 0.0, fmt.Errorf("argument is not a float: %s", document.Stringify(d))
}

func AsIntList(d any) ([]int64, error) {
	if !IsList(d) {
		return nil, fmt.Errorf("argument is not a list: %s", document.Stringify(d))
	}

	dv := reflect.ValueOf(d)
	ret := []int64{}
	for i := 0; i < dv.Len(); i++ {
		// strict: floats must not silently truncate
		elem := dv.Index(i).Interface()
		if k := reflect.ValueOf(elem).Kind(); k == reflect.Float32 || k == reflect.Float64 {
			return nil, fmt.Errorf("argument is not an int list: %s", document.Stringify(d))
		}
		arg, err := AsInt(elem)
		if err != nil {
			return nil, err
		}
		ret = append(ret, arg)
	}
	return ret, nil
}

func AsFloatList(d any) ([]float64, error) {
	if !IsList(d) {
		return nil, fmt.Errorf("argument is not a list: %s", document.Stringify(d))
	}

	dv := reflect.ValueOf(d)
	ret := []float64{}
	for i := 0; i < dv.Len(); i++ {
		arg, err := AsFloat(dv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		ret = append(ret, arg)
	}
	return ret, nil
}

// AsIntOrFloatList converts a numeric list preserving integer semantics when
// every element is an integer, falling back to floats on mixed input.
func AsIntOrFloatList(d any) ([]int64, []float64, reflect.Kind, error) {
	is, err := AsIntList(d)
	if err == nil {
		return is, []float64{}, reflect.Int64, nil
	}

	fs, err := AsFloatList(d)
	if err == nil {
		return []int64{}, fs, reflect.Float64, nil
	}

	return []int64{}, []float64{}, reflect.Invalid,
		fmt.Errorf("incompatible elems in numeric list: %s", document.Stringify(d))
}

func AsBinaryIntOrFloatList(d any) ([]int64, []float64, reflect.Kind, error) {
	is, fs, kind, err := AsIntOrFloatList(d)
	if err != nil {
		return is, fs, kind, err
	}

	if kind == reflect.Int64 && len(is) != 2 {
		return is, fs, kind,
			fmt.Errorf("invalid number (%d) of arguments in binary numeric list: %s",
				len(is), document.Stringify(d))
	}

	if kind == reflect.Float64 && len(fs) != 2 {
		return is, fs, kind,
			fmt.Errorf("invalid number (%d) of arguments in binary numeric list: %s",
				len(fs), document.Stringify(d))
	}

	return is, fs, kind, nil
}

func AsObject(d any) (document.Document, error) {
	if d == nil {
		return nil, errors.New("argument is nil")
	}

	ret, ok := d.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("argument is not an object: %s", document.Stringify(d))
	}

	return ret, nil
}

// asExpList returns the argument as a list of unevaluated expressions. Used by
// the lazy operators that must control which branch gets evaluated.
func asExpList(e *Expression) ([]Expression, error) {
	if e == nil {
		return nil, errors.New("empty argument list")
	}

	if e.Op == "@list" {
		if vs, ok := e.Literal.([]Expression); ok {
			return vs, nil
		}
	}

	return []Expression{*e}, nil
}

// asExpMap returns the argument as a map of unevaluated expressions.
func asExpMap(e *Expression) (map[string]Expression, error) {
	if e == nil {
		return nil, errors.New("empty argument")
	}

	if e.Op == "@dict" {
		if vm, ok := e.Literal.(map[string]Expression); ok {
			return vm, nil
		}
	}

	return nil, errors.New("argument must be an expression map")
}
