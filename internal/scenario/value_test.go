package scenario

import (
	"errors"
	"math"
	"testing"

	"github.com/23skdu/longbow-quant/internal/fault"
)

func expectPanic(t *testing.T, detail error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic with %v", detail)
		}
		err, ok := r.(*fault.Error)
		if !ok {
			t.Fatalf("expected *fault.Error panic, got %T: %v", r, r)
		}
		if !errors.Is(err, detail) {
			t.Fatalf("expected %v, got %v", detail, err)
		}
		if !errors.Is(err, fault.ErrConfiguration) {
			t.Fatalf("expected configuration kind, got %v", err)
		}
	}()
	fn()
}

func seq(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestCloseEnough(t *testing.T) {
	tests := []struct {
		name string
		x, y float64
		want bool
	}{
		{"identical", 1.5, 1.5, true},
		{"zero zero", 0, 0, true},
		{"tiny relative", 1.0, 1.0 + 1e-15, true},
		{"large relative", 1e10, 1e10 * (1 + 1e-15), true},
		{"clearly apart", 1.0, 1.0001, false},
		{"zero vs tiny", 0, 1e-30, true},
		{"zero vs small", 0, 1e-20, false},
		{"negative", -3.0, -3.0 - 1e-16, true},
		{"sign flip", -1e-3, 1e-3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CloseEnough(tt.x, tt.y); got != tt.want {
				t.Errorf("CloseEnough(%g, %g) = %v, want %v", tt.x, tt.y, got, tt.want)
			}
			if got := CloseEnough(tt.y, tt.x); got != tt.want {
				t.Errorf("CloseEnough not symmetric for (%g, %g)", tt.x, tt.y)
			}
		})
	}
}

func TestCloseEnoughBand(t *testing.T) {
	xs := []float64{1e-300, -2.5, 1, 3.75e8, -1e100, math.MaxFloat64 / 4}
	for _, x := range xs {
		if !CloseEnough(x, x) {
			t.Errorf("CloseEnough(%g, %g) must hold", x, x)
		}
		if inside := x * (1 + Tolerance/2); !CloseEnough(x, inside) {
			t.Errorf("CloseEnough(%g, %g) must hold inside the band", x, inside)
		}
		if outside := x * (1 + 4*Tolerance); CloseEnough(x, outside) {
			t.Errorf("CloseEnough(%g, %g) must fail outside the band", x, outside)
		}
	}
}

func TestDeterministicOpsAreScalar(t *testing.T) {
	// far too many paths to materialize; deterministic inputs must never expand
	const n = 1 << 40
	a, b := New(n, 3.0), New(n, 0.5)

	tests := []struct {
		name string
		got  Value
		want float64
	}{
		{"add", Add(a, b), 3.5},
		{"sub", Sub(a, b), 2.5},
		{"mul", Mul(a, b), 1.5},
		{"div", Div(a, b), 6},
		{"pow", Pow(a, b), math.Sqrt(3)},
		{"max", Max(a, b), 3},
		{"min", Min(a, b), 0.5},
		{"exp", Exp(b), math.Exp(0.5)},
		{"normal cdf", NormalCdf(New(n, 0)), 0.5},
		{"indicator", IndicatorGt(a, b, 1, 0, 0), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.got.Deterministic() {
				t.Fatal("expected deterministic result")
			}
			if tt.got.Size() != n {
				t.Fatalf("size = %d, want %d", tt.got.Size(), n)
			}
			if math.Abs(tt.got.At(0)-tt.want) > 1e-14 {
				t.Errorf("got %v, want %v", tt.got.At(0), tt.want)
			}
		})
	}
}

func TestExpandFoldRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 17, 1000} {
		x := NewAt(n, 2.75, 0.5)
		x.Expand()
		if x.Deterministic() {
			t.Fatalf("n=%d: expected stochastic after Expand", n)
		}
		for i := 0; i < n; i++ {
			if x.At(i) != 2.75 {
				t.Fatalf("n=%d: path %d = %v", n, i, x.At(i))
			}
		}
		x.UpdateDeterministic()
		if !x.Deterministic() || x.At(0) != 2.75 {
			t.Fatalf("n=%d: fold failed: %v", n, x)
		}
		if tm, ok := x.Time(); !ok || tm != 0.5 {
			t.Fatalf("n=%d: tag lost: %v %v", n, tm, ok)
		}
	}
}

func TestUpdateDeterministicKeepsDistinctPaths(t *testing.T) {
	x := FromSlice([]float64{1, 1, 1.5})
	x.UpdateDeterministic()
	if x.Deterministic() {
		t.Fatal("distinct paths must not fold")
	}
	y := FromSlice([]float64{1, 1 + 1e-16, 1})
	y.UpdateDeterministic()
	if !y.Deterministic() {
		t.Fatal("close enough paths should fold")
	}
}

func TestBroadcastMatchesPathwise(t *testing.T) {
	const n = 33
	arr := FromSlice(seq(n, 0.25, 0.125))
	c := New(n, 1.75)

	binaries := []struct {
		name string
		op   func(x, y Value) Value
		ref  func(a, b float64) float64
	}{
		{"add", Add, func(a, b float64) float64 { return a + b }},
		{"sub", Sub, func(a, b float64) float64 { return a - b }},
		{"mul", Mul, func(a, b float64) float64 { return a * b }},
		{"div", Div, func(a, b float64) float64 { return a / b }},
		{"pow", Pow, math.Pow},
		{"max", Max, math.Max},
		{"min", Min, math.Min},
	}
	for _, tt := range binaries {
		t.Run(tt.name, func(t *testing.T) {
			left := tt.op(c, arr)
			right := tt.op(arr, c)
			for i := 0; i < n; i++ {
				a := arr.At(i)
				if got, want := left.At(i), tt.ref(1.75, a); math.Abs(got-want) > 1e-13 {
					t.Fatalf("c op x at %d = %v, want %v", i, got, want)
				}
				if got, want := right.At(i), tt.ref(a, 1.75); math.Abs(got-want) > 1e-13 {
					t.Fatalf("x op c at %d = %v, want %v", i, got, want)
				}
			}
		})
	}
}

func TestNeutralShortcuts(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3})
	for name, got := range map[string]Value{
		"add zero": Add(x, New(3, 0)),
		"sub zero": Sub(x, New(3, 0)),
		"mul one":  Mul(x, New(3, 1)),
		"div one":  Div(x, New(3, 1)),
		"pow one":  Pow(x, New(3, 1)),
	} {
		for i := 0; i < 3; i++ {
			if got.At(i) != x.At(i) {
				t.Errorf("%s changed path %d: %v", name, i, got.At(i))
			}
		}
	}
}

func TestOperatorsDoNotAlias(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3})
	y := Add(x, FromSlice([]float64{1, 1, 1}))
	y.Set(0, 100)
	if x.At(0) != 1 {
		t.Fatalf("operand modified through result: %v", x)
	}
	z := Neg(x)
	z.Set(1, 42)
	if x.At(1) != 2 {
		t.Fatalf("operand modified through unary result: %v", x)
	}
	c := x.Clone()
	c.Set(2, -1)
	if x.At(2) != 3 {
		t.Fatal("Clone shares storage")
	}
}

func TestInPlaceAssign(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3})
	x.AddAssign(New(3, 1))
	x.MulAssign(FromSlice([]float64{2, 2, 2}))
	x.SubAssign(New(3, 4))
	x.DivAssign(New(3, 2))
	want := []float64{0, 1, 2}
	for i, w := range want {
		if x.At(i) != w {
			t.Fatalf("path %d = %v, want %v", i, x.At(i), w)
		}
	}
}

func TestUninitializedIsAbsorbing(t *testing.T) {
	x := FromSlice([]float64{1, 2})
	var u Value
	results := []Value{
		Add(x, u), Add(u, x), Sub(x, u), Mul(u, x), Div(x, u), Pow(x, u),
		Max(u, x), Min(x, u), Neg(u), Exp(u), Log(u), NormalPdf(u),
		IndicatorGt(x, u, 1, 0, 0.1), IndicatorEq(u, x, 1, 0),
		ConditionalResult(NewPredicate(2, true), x, u),
	}
	for i, r := range results {
		if r.Initialized() {
			t.Errorf("result %d should be uninitialized, got %v", i, r)
		}
	}
	if Less(x, u).Initialized() {
		t.Error("comparison with uninitialized should be uninitialized")
	}
}

func TestSizeMismatchPanics(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3})
	y := New(4, 1)
	expectPanic(t, fault.ErrSizeMismatch, func() { Add(x, y) })
	expectPanic(t, fault.ErrSizeMismatch, func() { Max(y, x) })
	expectPanic(t, fault.ErrSizeMismatch, func() { Less(x, y) })
	expectPanic(t, fault.ErrSizeMismatch, func() { ApplyFilter(x, NewPredicate(2, true)) })
	expectPanic(t, fault.ErrSizeMismatch, func() { And(NewPredicate(3, true), PredicateFromSlice([]bool{true, false})) })
}

func TestTimeTags(t *testing.T) {
	a := NewAt(3, 1, 0.5)
	b := FromSliceAt([]float64{1, 2, 3}, 0.5)
	c := NewAt(3, 1, 1.0)
	plain := New(3, 2)

	sum := Add(a, b)
	if tm, ok := sum.Time(); !ok || tm != 0.5 {
		t.Fatalf("expected tag 0.5, got %v %v", tm, ok)
	}
	inherited := Mul(plain, b)
	if tm, ok := inherited.Time(); !ok || tm != 0.5 {
		t.Fatalf("untagged operand should inherit tag, got %v %v", tm, ok)
	}
	expectPanic(t, fault.ErrInconsistentTag, func() { Add(a, c) })
	expectPanic(t, fault.ErrInconsistentTag, func() { GreaterEq(b, c) })
}

func TestSetExpandsOnlyWhenNeeded(t *testing.T) {
	x := New(4, 1)
	x.Set(2, 1)
	if !x.Deterministic() {
		t.Fatal("setting the same value must not expand")
	}
	x.Set(2, 5)
	if x.Deterministic() || x.At(2) != 5 || x.At(0) != 1 {
		t.Fatalf("unexpected state after Set: %v", x)
	}
}

func TestValuesAndCopyTo(t *testing.T) {
	x := New(3, 7)
	got := x.Values()
	if len(got) != 3 || got[0] != 7 || got[2] != 7 {
		t.Fatalf("Values() = %v", got)
	}
	dst := make([]float64, 2)
	FromSlice([]float64{1, 2, 3}).CopyTo(dst)
	if dst[0] != 1 || dst[1] != 2 {
		t.Fatalf("CopyTo = %v", dst)
	}
	if FromSlice(nil).Initialized() || New(0, 1).Initialized() {
		t.Fatal("empty constructors must yield uninitialized values")
	}
}

func TestUnaryFunctions(t *testing.T) {
	x := FromSlice([]float64{-1.5, 0.25, 2})
	tests := []struct {
		name string
		got  Value
		ref  func(float64) float64
	}{
		{"neg", Neg(x), func(a float64) float64 { return -a }},
		{"abs", Abs(x), math.Abs},
		{"exp", Exp(x), math.Exp},
		{"sin", Sin(x), math.Sin},
		{"cos", Cos(x), math.Cos},
		{"pdf", NormalPdf(x), func(a float64) float64 { return math.Exp(-a*a/2) / math.Sqrt(2*math.Pi) }},
		{"cdf", NormalCdf(x), func(a float64) float64 { return 0.5 * (1 + math.Erf(a/math.Sqrt2)) }},
	}
	for _, tt := range tests {
		for i := 0; i < 3; i++ {
			if got, want := tt.got.At(i), tt.ref(x.At(i)); math.Abs(got-want) > 1e-14 {
				t.Errorf("%s(%v) = %v, want %v", tt.name, x.At(i), got, want)
			}
		}
	}
	if NormalPdf(New(1, 40)).At(0) != 0 {
		t.Error("pdf far in the tail should underflow to zero")
	}
	if !math.IsNaN(Sqrt(New(1, -1)).At(0)) || !math.IsNaN(Log(New(1, -1)).At(0)) {
		t.Error("sqrt/log of negative should be NaN")
	}
}
