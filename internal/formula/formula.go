// Package formula evaluates restricted duty-rate arithmetic over bound
// decimal variables. Evaluation is deterministic: identical formula and
// inputs always produce bit-identical output at the configured scale.
package formula

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/tariff-engine/internal/model"
)

// DefaultScale is the fractional-digit precision used when no scale is
// configured. Stored rates carry 2-4 fractional digits.
const DefaultScale = 2

// divisionGuardDigits is the extra precision carried through intermediate
// divisions before the final rounding to scale.
const divisionGuardDigits = 4

// Evaluator evaluates formulas at a fixed decimal scale.
type Evaluator struct {
	scale int32
}

// NewEvaluator creates an Evaluator rounding results to the given number of
// fractional digits. Scales outside 2-4 fall back to DefaultScale.
func NewEvaluator(scale int) *Evaluator {
	if scale < 2 || scale > 4 {
		scale = DefaultScale
	}
	return &Evaluator{scale: int32(scale)}
}

// Scale returns the configured fractional-digit precision.
func (e *Evaluator) Scale() int32 { return e.scale }

// Evaluate parses and evaluates expr against the bound variables. A
// reference to an unbound variable is a FormulaSyntaxError, never silently
// zero. The result is rounded to the evaluator's scale.
func (e *Evaluator) Evaluate(expr string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	p, err := newParser(expr)
	if err != nil {
		return decimal.Zero, err
	}
	root, err := p.parseExpression()
	if err != nil {
		return decimal.Zero, err
	}
	val, err := e.eval(expr, root, vars)
	if err != nil {
		return decimal.Zero, err
	}
	return val.Round(e.scale), nil
}

// EvaluateCondition parses and evaluates a comparison predicate
// ("value > 2500", "weight <= 1000") against the bound variables.
func (e *Evaluator) EvaluateCondition(cond string, vars map[string]decimal.Decimal) (bool, error) {
	p, err := newParser(cond)
	if err != nil {
		return false, err
	}
	root, err := p.parseComparison()
	if err != nil {
		return false, err
	}
	cmp := root.(*compareNode)
	left, err := e.eval(cond, cmp.left, vars)
	if err != nil {
		return false, err
	}
	right, err := e.eval(cond, cmp.right, vars)
	if err != nil {
		return false, err
	}
	switch cmp.op {
	case "==":
		return left.Equal(right), nil
	case "!=":
		return !left.Equal(right), nil
	case "<":
		return left.LessThan(right), nil
	case "<=":
		return left.LessThanOrEqual(right), nil
	case ">":
		return left.GreaterThan(right), nil
	case ">=":
		return left.GreaterThanOrEqual(right), nil
	}
	return false, syntaxErr(cond, 0, "unsupported comparison operator "+cmp.op)
}

// Variables parses expr and returns the variable names it references, in
// first-use order.
func Variables(expr string) ([]string, error) {
	p, err := newParser(expr)
	if err != nil {
		return nil, err
	}
	root, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	var out []string
	collectVars(root, map[string]bool{}, &out)
	return out, nil
}

// Validate parses expr and reports whether it conforms to the grammar.
func Validate(expr string) error {
	p, err := newParser(expr)
	if err != nil {
		return err
	}
	_, err = p.parseExpression()
	return err
}

func (e *Evaluator) eval(expr string, n node, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	switch v := n.(type) {
	case *numberNode:
		return v.val, nil

	case *varNode:
		val, ok := vars[v.name]
		if !ok {
			return decimal.Zero, &model.FormulaSyntaxError{
				Formula: expr,
				Pos:     v.pos,
				Reason:  "unbound variable " + v.name,
			}
		}
		return val, nil

	case *negNode:
		val, err := e.eval(expr, v.child, vars)
		if err != nil {
			return decimal.Zero, err
		}
		return val.Neg(), nil

	case *binaryNode:
		left, err := e.eval(expr, v.left, vars)
		if err != nil {
			return decimal.Zero, err
		}
		right, err := e.eval(expr, v.right, vars)
		if err != nil {
			return decimal.Zero, err
		}
		switch v.op {
		case "+":
			return left.Add(right), nil
		case "-":
			return left.Sub(right), nil
		case "*":
			return left.Mul(right), nil
		case "/":
			if right.IsZero() {
				return decimal.Zero, syntaxErr(expr, v.pos, "division by zero")
			}
			return left.DivRound(right, e.scale+divisionGuardDigits), nil
		}
		return decimal.Zero, syntaxErr(expr, v.pos, "unsupported operator "+v.op)

	case *callNode:
		best, err := e.eval(expr, v.args[0], vars)
		if err != nil {
			return decimal.Zero, err
		}
		for _, arg := range v.args[1:] {
			val, err := e.eval(expr, arg, vars)
			if err != nil {
				return decimal.Zero, err
			}
			if v.fn == "min" && val.LessThan(best) || v.fn == "max" && val.GreaterThan(best) {
				best = val
			}
		}
		return best, nil
	}

	return decimal.Zero, syntaxErr(expr, 0, "unsupported expression node")
}
