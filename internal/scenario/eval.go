package scenario

import (
	"github.com/23skdu/longbow-quant/internal/fault"
	"github.com/23skdu/longbow-quant/internal/opcode"
)

// OpFunc evaluates one op code on its operands.
type OpFunc func(args []Value) Value

// Evaluator is the eager reference implementation of every op code. Backends
// that compile programs must agree with it within floating-point tolerance.
type Evaluator struct {
	ops []OpFunc
}

// NewEvaluator builds the op table. regressionOrder is the monomial degree
// used by ConditionalExpectation; eps is the smoothing width for IndicatorGt,
// IndicatorGeq, Min and Max (0 means hard steps).
func NewEvaluator(regressionOrder int, eps float64) *Evaluator {
	ops := make([]OpFunc, len(opcode.All()))
	ops[opcode.None] = func(a []Value) Value { return a[0] }
	ops[opcode.Add] = func(a []Value) Value { return Add(a[0], a[1]) }
	ops[opcode.Subtract] = func(a []Value) Value { return Sub(a[0], a[1]) }
	ops[opcode.Negative] = func(a []Value) Value { return Neg(a[0]) }
	ops[opcode.Mult] = func(a []Value) Value { return Mul(a[0], a[1]) }
	ops[opcode.Div] = func(a []Value) Value { return Div(a[0], a[1]) }
	ops[opcode.ConditionalExpectation] = func(a []Value) Value {
		n := a[0].Size()
		f := Not(Eq(a[1], New(n, 0)))
		return ConditionalExpectation(a[0], a[2:], f, regressionOrder)
	}
	ops[opcode.IndicatorEq] = func(a []Value) Value { return IndicatorEq(a[0], a[1], 1, 0) }
	ops[opcode.IndicatorGt] = func(a []Value) Value { return IndicatorGt(a[0], a[1], 1, 0, eps) }
	ops[opcode.IndicatorGeq] = func(a []Value) Value { return IndicatorGeq(a[0], a[1], 1, 0, eps) }
	if eps == 0 {
		ops[opcode.Min] = func(a []Value) Value { return Min(a[0], a[1]) }
		ops[opcode.Max] = func(a []Value) Value { return Max(a[0], a[1]) }
	} else {
		ops[opcode.Min] = func(a []Value) Value {
			return Add(Mul(IndicatorGt(a[0], a[1], 1, 0, eps), Sub(a[1], a[0])), a[0])
		}
		ops[opcode.Max] = func(a []Value) Value {
			return Add(Mul(IndicatorGt(a[0], a[1], 1, 0, eps), Sub(a[0], a[1])), a[1])
		}
	}
	ops[opcode.Abs] = func(a []Value) Value { return Abs(a[0]) }
	ops[opcode.Exp] = func(a []Value) Value { return Exp(a[0]) }
	ops[opcode.Sqrt] = func(a []Value) Value { return Sqrt(a[0]) }
	ops[opcode.Log] = func(a []Value) Value { return Log(a[0]) }
	ops[opcode.Pow] = func(a []Value) Value { return Pow(a[0], a[1]) }
	ops[opcode.NormalCdf] = func(a []Value) Value { return NormalCdf(a[0]) }
	ops[opcode.NormalPdf] = func(a []Value) Value { return NormalPdf(a[0]) }
	ops[opcode.Sin] = func(a []Value) Value { return Sin(a[0]) }
	ops[opcode.Cos] = func(a []Value) Value { return Cos(a[0]) }
	return &Evaluator{ops: ops}
}

// Apply validates the op code and arity, then evaluates. Contract violations
// raised by the value algebra come back as errors.
func (e *Evaluator) Apply(c opcode.Code, args ...Value) (res Value, err error) {
	if err := opcode.Validate(c, len(args)); err != nil {
		return Value{}, err
	}
	defer fault.Recover(&err)
	return e.ops[c](args), nil
}
