package scenario

import "math"

func compare(op string, x, y Value, g func(a, b float64) bool) Predicate {
	if !x.Initialized() || !y.Initialized() {
		return Predicate{}
	}
	checkSize(op, x.n, y.n)
	checkTime(op, x, y)
	if x.det && y.det {
		return NewPredicate(x.n, g(x.scalar, y.scalar))
	}
	data := make([]bool, x.n)
	for i := range data {
		data[i] = g(x.get(i), y.get(i))
	}
	f := Predicate{n: x.n, data: data}
	f.UpdateDeterministic()
	return f
}

func lt(a, b float64) bool  { return a < b && !CloseEnough(a, b) }
func leq(a, b float64) bool { return a < b || CloseEnough(a, b) }
func gt(a, b float64) bool  { return a > b && !CloseEnough(a, b) }
func geq(a, b float64) bool { return a > b || CloseEnough(a, b) }

func Less(x, y Value) Predicate      { return compare("scenario.Less", x, y, lt) }
func LessEq(x, y Value) Predicate    { return compare("scenario.LessEq", x, y, leq) }
func Greater(x, y Value) Predicate   { return compare("scenario.Greater", x, y, gt) }
func GreaterEq(x, y Value) Predicate { return compare("scenario.GreaterEq", x, y, geq) }

// Eq is the pathwise close-enough equality.
func Eq(x, y Value) Predicate { return compare("scenario.Eq", x, y, CloseEnough) }

// CloseEnoughAll reports whether every path of x is close enough to y.
func CloseEnoughAll(x, y Value) bool {
	checkSize("scenario.CloseEnoughAll", x.n, y.n)
	checkTime("scenario.CloseEnoughAll", x, y)
	if x.det && y.det {
		return CloseEnough(x.scalar, y.scalar)
	}
	for i := 0; i < x.n; i++ {
		if !CloseEnough(x.get(i), y.get(i)) {
			return false
		}
	}
	return true
}

func IndicatorEq(x, y Value, trueVal, falseVal float64) Value {
	return binary("scenario.IndicatorEq", x, y, func(a, b float64) float64 {
		if CloseEnough(a, b) {
			return trueVal
		}
		return falseVal
	})
}

// IndicatorGt is trueVal where x > y. A non-zero eps replaces the step with a
// logistic of width proportional to the root mean square of x-y.
func IndicatorGt(x, y Value, trueVal, falseVal, eps float64) Value {
	return indicator("scenario.IndicatorGt", x, y, trueVal, falseVal, eps, gt)
}

// IndicatorGeq is IndicatorGt with ties counted as true.
func IndicatorGeq(x, y Value, trueVal, falseVal, eps float64) Value {
	return indicator("scenario.IndicatorGeq", x, y, trueVal, falseVal, eps, geq)
}

func indicator(op string, x, y Value, trueVal, falseVal, eps float64, step func(a, b float64) bool) Value {
	if !x.Initialized() || !y.Initialized() {
		return Value{}
	}
	checkSize(op, x.n, y.n)
	if !CloseEnough(eps, 0) {
		if delta := smoothingWidth(x, y, eps); !CloseEnough(delta, 0) {
			return binary(op, x, y, func(a, b float64) float64 {
				return falseVal + (trueVal-falseVal)/(1+math.Exp(-(a-b)/delta))
			})
		}
	}
	return binary(op, x, y, func(a, b float64) float64 {
		if step(a, b) {
			return trueVal
		}
		return falseVal
	})
}

// smoothingWidth is sqrt(mean((x-y)^2)) * eps / 2.
func smoothingWidth(x, y Value, eps float64) float64 {
	if x.det && y.det {
		return math.Abs(x.scalar-y.scalar) * eps / 2
	}
	sum := 0.0
	for i := 0; i < x.n; i++ {
		d := x.get(i) - y.get(i)
		sum += d * d
	}
	return math.Sqrt(sum/float64(x.n)) * eps / 2
}

// IndicatorDerivative is the derivative of the logistic step used by the
// smoothed indicators, evaluated at x. It is zero for eps ~ 0 or a
// deterministic x.
func IndicatorDerivative(x Value, eps float64) Value {
	if !x.Initialized() {
		return Value{}
	}
	zero := New(x.n, 0)
	if CloseEnough(eps, 0) || x.det {
		return zero
	}
	sum := 0.0
	for _, v := range x.data {
		sum += v * v
	}
	delta := math.Sqrt(sum/float64(x.n)) * eps / 2
	if CloseEnough(delta, 0) {
		return zero
	}
	return unary(x, func(a float64) float64 {
		e := math.Exp(-math.Abs(a) / delta)
		return e / (delta * (1 + e) * (1 + e))
	})
}

// ConditionalResult selects x where f holds and y elsewhere.
func ConditionalResult(f Predicate, x, y Value) Value {
	if !f.Initialized() || !x.Initialized() || !y.Initialized() {
		return Value{}
	}
	checkSize("scenario.ConditionalResult", f.n, x.n)
	checkSize("scenario.ConditionalResult", f.n, y.n)
	t, hasTime := mergeTime("scenario.ConditionalResult", x, y)
	var res Value
	switch {
	case f.det && f.scalar:
		res = x
	case f.det:
		res = y
	default:
		out := make([]float64, x.n)
		for i := range out {
			if f.data[i] {
				out[i] = x.get(i)
			} else {
				out[i] = y.get(i)
			}
		}
		res = Value{n: x.n, data: out}
	}
	res.time, res.hasTime = t, hasTime
	return res
}

// ApplyFilter zeroes the paths where f is false.
func ApplyFilter(x Value, f Predicate) Value {
	return filter("scenario.ApplyFilter", x, f, false)
}

// ApplyInverseFilter zeroes the paths where f is true.
func ApplyInverseFilter(x Value, f Predicate) Value {
	return filter("scenario.ApplyInverseFilter", x, f, true)
}

func filter(op string, x Value, f Predicate, zeroWhen bool) Value {
	if !x.Initialized() {
		return x
	}
	if !f.Initialized() {
		return x
	}
	checkSize(op, f.n, x.n)
	if f.det {
		if f.scalar == zeroWhen {
			return Value{n: x.n, det: true, time: x.time, hasTime: x.hasTime}
		}
		return x
	}
	if x.det && CloseEnough(x.scalar, 0) {
		return x
	}
	out := make([]float64, x.n)
	for i := range out {
		if f.data[i] != zeroWhen {
			out[i] = x.get(i)
		}
	}
	return Value{n: x.n, data: out, time: x.time, hasTime: x.hasTime}
}
