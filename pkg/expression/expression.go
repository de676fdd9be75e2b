// Package expression implements the recursive expression language used by the
// aggregation pipeline: a small AST over constants, JSONPath field references
// and @-prefixed operators, evaluated against one document at a time.
package expression

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/go-logr/logr"

	"github.com/facetlab/facet/pkg/document"
)

// EvalCtx is the evaluation context of an expression. Object is the document
// under evaluation ("$."), Subject is the local subject inside list operators
// ("$$.").
type EvalCtx struct {
	Object, Subject any
	Log             logr.Logger
}

// Expression is a tagged operator node: terminals carry their value in
// Literal, compound operators store their (unevaluated) arguments in Arg.
type Expression struct {
	Op      string
	Arg     *Expression
	Literal any
}

// Evaluate computes the value of the expression on the given context.
//
// Undefined-numeric policy: @divide by zero and @log10 of a non-positive
// argument both evaluate to 0.0, matching the null-coalescing guards used
// throughout the analysis formulas. @sqrt of a negative argument is an error.
func (e *Expression) Evaluate(ctx EvalCtx) (any, error) {
	if len(e.Op) == 0 {
		return nil, NewInvalidArgumentsError(fmt.Sprintf("empty operator in expression %q", e.String()))
	}

	switch e.Op {
	case "@bool":
		lit := e.Literal
		if e.Arg != nil {
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			lit = v
		}

		v, err := AsBool(lit)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		return v, nil

	case "@int":
		lit := e.Literal
		if e.Arg != nil {
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			lit = v
		}

		v, err := AsInt(lit)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		return v, nil

	case "@float":
		lit := e.Literal
		if e.Arg != nil {
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			lit = v
		}

		v, err := AsFloat(lit)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		return v, nil

	case "@string":
		lit := e.Literal
		if e.Arg != nil {
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			lit = v
		}

		str, err := AsString(lit)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		ret, err := e.GetJSONPath(ctx, str)
		if err != nil {
			return nil, err
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", ret)

		return ret, nil

	case "@list":
		ret := []any{}
		if e.Arg != nil {
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}

			vs, ok := v.([]any)
			if !ok {
				return nil, NewExpressionError(e, errors.New("argument must be a list"))
			}

			ret = vs
		} else {
			vs, ok := e.Literal.([]Expression)
			if !ok {
				return nil, NewExpressionError(e,
					errors.New("argument must be an expression list"))
			}

			for _, exp := range vs {
				res, err := exp.Evaluate(ctx)
				if err != nil {
					return nil, err
				}
				ret = append(ret, res)
			}
		}

		return ret, nil

	case "@dict":
		ret := document.Document{}
		if e.Arg != nil {
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}

			vs, ok := v.(map[string]any)
			if !ok {
				return nil, NewExpressionError(e, errors.New("argument must be a map"))
			}
			ret = vs
		} else {
			vm, ok := e.Literal.(map[string]Expression)
			if !ok {
				return nil, NewExpressionError(e,
					errors.New("argument must be a string->expression map"))
			}

			for k, exp := range vm {
				res, err := exp.Evaluate(ctx)
				if err != nil {
					return nil, err
				}
				if err := e.SetJSONPath(ctx, k, res, ret); err != nil {
					return nil, NewExpressionError(e,
						fmt.Errorf("could not dereference JSON \"set\" expression: %w", err))
				}
			}
		}

		return ret, nil
	}

	// lazy operators: must handle their own arguments
	switch e.Op {
	case "@ifNull":
		// returns the first argument that is neither absent nor null
		args, err := asExpList(e.Arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		for _, exp := range args {
			res, err := exp.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			if res != nil {
				return res, nil
			}
		}

		return nil, nil

	case "@cond": // [if, then, else]
		args, err := asExpList(e.Arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		if len(args) != 3 {
			return nil, NewExpressionError(e, errors.New("expected 3 arguments"))
		}

		res, err := args[0].Evaluate(ctx)
		if err != nil {
			return nil, err
		}

		b, err := AsBool(res)
		if err != nil {
			return nil, NewExpressionError(e,
				fmt.Errorf("expected conditional expression to evaluate to boolean: %w", err))
		}

		if b {
			return args[1].Evaluate(ctx)
		}
		return args[2].Evaluate(ctx)

	case "@switch": // {branches: [{case, then}, ...], default: ...}
		spec, err := asExpMap(e.Arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		branchesExp, ok := spec["branches"]
		if !ok {
			return nil, NewExpressionError(e, errors.New("missing switch branches"))
		}

		branches, err := asExpList(&branchesExp)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		for i := range branches {
			branch, err := asExpMap(&branches[i])
			if err != nil {
				return nil, NewExpressionError(e,
					fmt.Errorf("invalid switch branch: %w", err))
			}

			caseExp, caseOk := branch["case"]
			thenExp, thenOk := branch["then"]
			if !caseOk || !thenOk {
				return nil, NewExpressionError(e,
					errors.New("switch branch must contain a case and a then"))
			}

			res, err := caseExp.Evaluate(ctx)
			if err != nil {
				return nil, err
			}

			b, err := AsBool(res)
			if err != nil {
				return nil, NewExpressionError(e,
					fmt.Errorf("expected case expression to evaluate to boolean: %w", err))
			}

			if b {
				return thenExp.Evaluate(ctx)
			}
		}

		if defaultExp, ok := spec["default"]; ok {
			return defaultExp.Evaluate(ctx)
		}

		return nil, NewExpressionError(e, errors.New("no switch branch matched and no default given"))

	case "@filter": // [cond, list]
		args, err := asExpList(e.Arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		if len(args) != 2 {
			return nil, NewExpressionError(e, errors.New("expected 2 arguments"))
		}

		cond := args[0]

		rawArg, err := args[1].Evaluate(ctx)
		if err != nil {
			return nil, err
		}

		list, err := AsList(rawArg)
		if err != nil {
			return nil, NewExpressionError(e, errors.New("expected a list"))
		}

		vs := []any{}
		for _, input := range list {
			res, err := cond.Evaluate(EvalCtx{Object: ctx.Object, Subject: input, Log: ctx.Log})
			if err != nil {
				return nil, err
			}

			b, err := AsBool(res)
			if err != nil {
				return nil, NewExpressionError(e,
					fmt.Errorf("expected conditional expression to evaluate to boolean: %w", err))
			}

			if b {
				vs = append(vs, input)
			}
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", vs)

		return vs, nil

	case "@map": // [exp, list]
		args, err := asExpList(e.Arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		if len(args) != 2 {
			return nil, NewExpressionError(e, errors.New("expected 2 arguments"))
		}

		exp := args[0]

		rawArg, err := args[1].Evaluate(ctx)
		if err != nil {
			return nil, err
		}

		list, err := AsList(rawArg)
		if err != nil {
			return nil, NewExpressionError(e, errors.New("expected a list"))
		}

		vs := []any{}
		for _, input := range list {
			res, err := exp.Evaluate(EvalCtx{Object: ctx.Object, Subject: input, Log: ctx.Log})
			if err != nil {
				return nil, err
			}

			vs = append(vs, res)
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", vs)

		return vs, nil
	}

	// eager operators: evaluate the argument first
	if e.Arg == nil {
		return nil, NewExpressionError(e, errors.New("empty argument list"))
	}

	arg, err := e.Arg.Evaluate(ctx)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	// unary bool
	case "@isnil":
		return arg == nil, nil

	case "@exists":
		return arg != nil, nil

	case "@not":
		b, err := AsBool(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		return !b, nil

	// binary bool
	case "@eq", "@ne":
		args, err := AsList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		if len(args) != 2 {
			return nil, NewExpressionError(e, errors.New("expected 2 arguments"))
		}

		v := equalValues(args[0], args[1])
		if e.Op == "@ne" {
			v = !v
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "args", args, "result", v)
		return v, nil

	// list bool
	case "@and":
		args, err := AsBoolList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		v := true
		for i := range args {
			v = v && args[i]
		}

		return v, nil

	case "@or":
		args, err := AsBoolList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		v := false
		for i := range args {
			v = v || args[i]
		}

		return v, nil

	// binary numeric comparison
	case "@lt", "@lte", "@gt", "@gte":
		is, fs, kind, err := AsBinaryIntOrFloatList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		var a, b float64
		if kind == reflect.Int64 {
			a, b = float64(is[0]), float64(is[1])
		} else {
			a, b = fs[0], fs[1]
		}

		var v bool
		switch e.Op {
		case "@lt":
			v = a < b
		case "@lte":
			v = a <= b
		case "@gt":
			v = a > b
		case "@gte":
			v = a >= b
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "args", arg, "result", v)
		return v, nil

	// n-ary arithmetic
	case "@add", "@multiply":
		is, fs, kind, err := AsIntOrFloatList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		var v any
		if kind == reflect.Int64 {
			vi := int64(0)
			if e.Op == "@multiply" {
				vi = 1
			}
			for i := range is {
				if e.Op == "@add" {
					vi += is[i]
				} else {
					vi *= is[i]
				}
			}
			v = vi
		} else {
			vf := 0.0
			if e.Op == "@multiply" {
				vf = 1.0
			}
			for i := range fs {
				if e.Op == "@add" {
					vf += fs[i]
				} else {
					vf *= fs[i]
				}
			}
			v = vf
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "arg", arg, "result", v)
		return v, nil

	// binary arithmetic
	case "@subtract":
		is, fs, kind, err := AsBinaryIntOrFloatList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		if kind == reflect.Int64 {
			return is[0] - is[1], nil
		}
		return fs[0] - fs[1], nil

	case "@divide":
		is, fs, kind, err := AsBinaryIntOrFloatList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		var a, b float64
		if kind == reflect.Int64 {
			a, b = float64(is[0]), float64(is[1])
		} else {
			a, b = fs[0], fs[1]
		}

		// division by zero yields 0.0
		if b == 0 {
			return 0.0, nil
		}
		return a / b, nil

	// unary arithmetic
	case "@abs":
		f, err := AsFloat(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		return math.Abs(f), nil

	case "@ceil":
		f, err := AsFloat(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		return math.Ceil(f), nil

	case "@floor":
		f, err := AsFloat(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		return math.Floor(f), nil

	case "@sqrt":
		f, err := AsFloat(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		if f < 0 {
			return nil, NewExpressionError(e,
				fmt.Errorf("square root of negative number: %v", f))
		}
		return math.Sqrt(f), nil

	case "@log10":
		f, err := AsFloat(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		// undefined for non-positive input, fall back to zero
		if f <= 0 {
			return 0.0, nil
		}
		return math.Log10(f), nil

	case "@toNumber":
		if i, err := AsInt(arg); err == nil {
			if k := reflect.ValueOf(arg).Kind(); k != reflect.Float32 && k != reflect.Float64 {
				return i, nil
			}
		}
		f, err := AsFloat(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		return f, nil

	// list ops
	case "@sum":
		is, fs, kind, err := AsIntOrFloatList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		var v any
		if kind == reflect.Int64 {
			vi := int64(0)
			for i := range is {
				vi += is[i]
			}
			v = vi
		} else {
			vf := 0.0
			for i := range fs {
				vf += fs[i]
			}
			v = vf
		}

		return v, nil

	case "@len":
		args, err := AsList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		return int64(len(args)), nil

	case "@in": // [elem, list]
		args, err := AsList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		if len(args) != 2 {
			return nil, NewExpressionError(e, errors.New("expected 2 arguments"))
		}

		elem := args[0]
		list, err := AsList(args[1])
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		v := false
		for i := range list {
			if equalValues(list[i], elem) {
				v = true
				break
			}
		}

		return v, nil

	case "@concat":
		args, err := AsStringList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		v := ""
		for i := range args {
			v += args[i]
		}

		return v, nil
	}

	return nil, NewExpressionError(e, errors.New("unknown op"))
}

// equalValues compares two values with numeric int/float coercion so that
// int64(8) equals float64(8.0), falling back to deep equality otherwise.
func equalValues(a, b any) bool {
	fa, errA := AsFloat(a)
	fb, errB := AsFloat(b)
	if errA == nil && errB == nil {
		_, aStr := a.(string)
		_, bStr := b.(string)
		if !aStr && !bStr {
			return fa == fb
		}
	}

	return reflect.DeepEqual(a, b)
}
