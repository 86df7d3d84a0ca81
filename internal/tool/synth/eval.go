package synth

import (
	"fmt"
	"go/ast"
	"go/token"
	"strconv"
	"strings"
)

// eval interprets the compiled expression tree against params, the map the
// synthesized tool's parameters were decoded into. Only the node kinds
// accepted by checkDenylist can appear here — eval does not re-validate.
func (p *program) eval(params map[string]any) (any, error) {
	return evalNode(p.expr, params)
}

func evalNode(n ast.Expr, params map[string]any) (any, error) {
	switch x := n.(type) {
	case *ast.ParenExpr:
		return evalNode(x.X, params)

	case *ast.BasicLit:
		switch x.Kind {
		case token.INT:
			v, err := strconv.ParseInt(x.Value, 0, 64)
			return v, err
		case token.FLOAT:
			v, err := strconv.ParseFloat(x.Value, 64)
			return v, err
		case token.STRING:
			v, err := strconv.Unquote(x.Value)
			return v, err
		default:
			return nil, fmt.Errorf("unsupported literal kind %v", x.Kind)
		}

	case *ast.Ident:
		switch x.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil":
			return nil, nil
		case "params":
			return params, nil
		}
		return nil, fmt.Errorf("unbound identifier %q", x.Name)

	case *ast.IndexExpr:
		base, err := evalNode(x.X, params)
		if err != nil {
			return nil, err
		}
		m, ok := base.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("index into non-map value")
		}
		keyLit, ok := x.Index.(*ast.BasicLit)
		if !ok || keyLit.Kind != token.STRING {
			return nil, fmt.Errorf("map index must be a string literal")
		}
		key, err := strconv.Unquote(keyLit.Value)
		if err != nil {
			return nil, err
		}
		return m[key], nil

	case *ast.UnaryExpr:
		v, err := evalNode(x.X, params)
		if err != nil {
			return nil, err
		}
		switch x.Op {
		case token.SUB:
			f, err := asFloat(v)
			if err != nil {
				return nil, err
			}
			return -f, nil
		case token.NOT:
			b, err := asBool(v)
			if err != nil {
				return nil, err
			}
			return !b, nil
		default:
			return nil, fmt.Errorf("unsupported unary operator %v", x.Op)
		}

	case *ast.BinaryExpr:
		return evalBinary(x, params)

	case *ast.CallExpr:
		fnIdent := x.Fun.(*ast.Ident) // guaranteed by checkDenylist
		fn := allowedCalls[fnIdent.Name]
		args := make([]any, 0, len(x.Args))
		for _, a := range x.Args {
			v, err := evalNode(a, params)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return fn(args)

	default:
		return nil, fmt.Errorf("unsupported expression node %T", n)
	}
}

func evalBinary(x *ast.BinaryExpr, params map[string]any) (any, error) {
	// Logical operators short-circuit and operate on bools directly.
	if x.Op == token.LAND || x.Op == token.LOR {
		l, err := evalNode(x.X, params)
		if err != nil {
			return nil, err
		}
		lb, err := asBool(l)
		if err != nil {
			return nil, err
		}
		if x.Op == token.LAND && !lb {
			return false, nil
		}
		if x.Op == token.LOR && lb {
			return true, nil
		}
		r, err := evalNode(x.Y, params)
		if err != nil {
			return nil, err
		}
		return asBool(r)
	}

	l, err := evalNode(x.X, params)
	if err != nil {
		return nil, err
	}
	r, err := evalNode(x.Y, params)
	if err != nil {
		return nil, err
	}

	// String concatenation and equality fall back to string semantics when
	// either side is a string; everything else is numeric.
	if ls, lok := l.(string); lok {
		rs, rok := r.(string)
		if !rok {
			return nil, fmt.Errorf("type mismatch in string expression")
		}
		switch x.Op {
		case token.ADD:
			return ls + rs, nil
		case token.EQL:
			return ls == rs, nil
		case token.NEQ:
			return ls != rs, nil
		default:
			return nil, fmt.Errorf("unsupported string operator %v", x.Op)
		}
	}

	lf, err := asFloat(l)
	if err != nil {
		return nil, err
	}
	rf, err := asFloat(r)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case token.ADD:
		return lf + rf, nil
	case token.SUB:
		return lf - rf, nil
	case token.MUL:
		return lf * rf, nil
	case token.QUO:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case token.EQL:
		return lf == rf, nil
	case token.NEQ:
		return lf != rf, nil
	case token.LSS:
		return lf < rf, nil
	case token.LEQ:
		return lf <= rf, nil
	case token.GTR:
		return lf > rf, nil
	case token.GEQ:
		return lf >= rf, nil
	default:
		return nil, fmt.Errorf("unsupported binary operator %v", x.Op)
	}
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

// ── allowlisted builtins ──

func biLen(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("len: expected 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case string:
		return int64(len(v)), nil
	case map[string]any:
		return int64(len(v)), nil
	default:
		return nil, fmt.Errorf("len: unsupported argument type %T", v)
	}
}

func biUpper(args []any) (any, error) {
	s, err := str1(args, "upper")
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

func biLower(args []any) (any, error) {
	s, err := str1(args, "lower")
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

func biTrim(args []any) (any, error) {
	s, err := str1(args, "trim")
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s), nil
}

func biContains(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("contains: expected 2 arguments, got %d", len(args))
	}
	s, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	sub, err := asString(args[1])
	if err != nil {
		return nil, err
	}
	return strings.Contains(s, sub), nil
}

func biConcat(args []any) (any, error) {
	var sb strings.Builder
	for _, a := range args {
		s, err := asString(a)
		if err != nil {
			return nil, err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

func biAbs(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("abs: expected 1 argument, got %d", len(args))
	}
	f, err := asFloat(args[0])
	if err != nil {
		return nil, err
	}
	if f < 0 {
		return -f, nil
	}
	return f, nil
}

func biMin(args []any) (any, error) {
	return minMax(args, "min", func(a, b float64) bool { return a < b })
}

func biMax(args []any) (any, error) {
	return minMax(args, "max", func(a, b float64) bool { return a > b })
}

func minMax(args []any, name string, better func(a, b float64) bool) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%s: expected 2 arguments, got %d", name, len(args))
	}
	a, err := asFloat(args[0])
	if err != nil {
		return nil, err
	}
	b, err := asFloat(args[1])
	if err != nil {
		return nil, err
	}
	if better(a, b) {
		return a, nil
	}
	return b, nil
}

func str1(args []any, name string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s: expected 1 argument, got %d", name, len(args))
	}
	return asString(args[0])
}
