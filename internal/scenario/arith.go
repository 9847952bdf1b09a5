package scenario

import "math"

// binary applies g pathwise. Deterministic operands are read as a broadcast
// scalar; two deterministic operands cost a single evaluation.
func binary(op string, x, y Value, g func(a, b float64) float64) Value {
	if !x.Initialized() || !y.Initialized() {
		return Value{}
	}
	checkSize(op, x.n, y.n)
	t, hasTime := mergeTime(op, x, y)
	if x.det && y.det {
		return Value{n: x.n, det: true, scalar: g(x.scalar, y.scalar), time: t, hasTime: hasTime}
	}
	out := make([]float64, x.n)
	switch {
	case x.det:
		a := x.scalar
		for i, b := range y.data {
			out[i] = g(a, b)
		}
	case y.det:
		b := y.scalar
		for i, a := range x.data {
			out[i] = g(a, b)
		}
	default:
		for i, a := range x.data {
			out[i] = g(a, y.data[i])
		}
	}
	return Value{n: x.n, data: out, time: t, hasTime: hasTime}
}

// identity returns x unchanged apart from the merged tag. Used when y is a
// deterministic neutral element.
func identity(op string, x, y Value) Value {
	checkSize(op, x.n, y.n)
	t, hasTime := mergeTime(op, x, y)
	x.time, x.hasTime = t, hasTime
	return x
}

func isNeutral(y Value, unit float64) bool {
	return y.det && CloseEnough(y.scalar, unit)
}

func unary(x Value, g func(float64) float64) Value {
	if !x.Initialized() {
		return Value{}
	}
	if x.det {
		x.scalar = g(x.scalar)
		return x
	}
	out := make([]float64, x.n)
	for i, a := range x.data {
		out[i] = g(a)
	}
	x.data = out
	return x
}

func Add(x, y Value) Value {
	if x.Initialized() && y.Initialized() && isNeutral(y, 0) {
		return identity("scenario.Add", x, y)
	}
	return binary("scenario.Add", x, y, func(a, b float64) float64 { return a + b })
}

func Sub(x, y Value) Value {
	if x.Initialized() && y.Initialized() && isNeutral(y, 0) {
		return identity("scenario.Sub", x, y)
	}
	return binary("scenario.Sub", x, y, func(a, b float64) float64 { return a - b })
}

func Mul(x, y Value) Value {
	if x.Initialized() && y.Initialized() && isNeutral(y, 1) {
		return identity("scenario.Mul", x, y)
	}
	return binary("scenario.Mul", x, y, func(a, b float64) float64 { return a * b })
}

func Div(x, y Value) Value {
	if x.Initialized() && y.Initialized() && isNeutral(y, 1) {
		return identity("scenario.Div", x, y)
	}
	return binary("scenario.Div", x, y, func(a, b float64) float64 { return a / b })
}

func Pow(x, y Value) Value {
	if x.Initialized() && y.Initialized() && isNeutral(y, 1) {
		return identity("scenario.Pow", x, y)
	}
	return binary("scenario.Pow", x, y, math.Pow)
}

func (x *Value) AddAssign(y Value) { *x = Add(*x, y) }
func (x *Value) SubAssign(y Value) { *x = Sub(*x, y) }
func (x *Value) MulAssign(y Value) { *x = Mul(*x, y) }
func (x *Value) DivAssign(y Value) { *x = Div(*x, y) }

func Max(x, y Value) Value {
	return binary("scenario.Max", x, y, maxOf)
}

func Min(x, y Value) Value {
	return binary("scenario.Min", x, y, minOf)
}

// maxOf and minOf keep the first argument on ties and NaN, like the device
// helpers.
func maxOf(a, b float64) float64 {
	if a < b {
		return b
	}
	return a
}

func minOf(a, b float64) float64 {
	if b < a {
		return b
	}
	return a
}

func Neg(x Value) Value  { return unary(x, func(a float64) float64 { return -a }) }
func Abs(x Value) Value  { return unary(x, math.Abs) }
func Exp(x Value) Value  { return unary(x, math.Exp) }
func Log(x Value) Value  { return unary(x, math.Log) }
func Sqrt(x Value) Value { return unary(x, math.Sqrt) }
func Sin(x Value) Value  { return unary(x, math.Sin) }
func Cos(x Value) Value  { return unary(x, math.Cos) }

func NormalCdf(x Value) Value { return unary(x, normalCdf) }
func NormalPdf(x Value) Value { return unary(x, normalPdf) }

func normalCdf(a float64) float64 {
	return 0.5 * math.Erfc(-a/math.Sqrt2)
}

const invSqrt2Pi = 0.3989422804014327

func normalPdf(a float64) float64 {
	e := -0.5 * a * a
	if e <= -690 {
		return 0
	}
	return math.Exp(e) * invSqrt2Pi
}
