package scenario

import (
	"math"
	"testing"
)

func TestIndicatorsHard(t *testing.T) {
	x := FromSlice([]float64{-1, 0, 1})
	zero := New(3, 0)

	tests := []struct {
		name string
		got  Value
		want []float64
	}{
		{"eq", IndicatorEq(x, zero, 1, 0), []float64{0, 1, 0}},
		{"gt", IndicatorGt(x, zero, 1, 0, 0), []float64{0, 0, 1}},
		{"geq", IndicatorGeq(x, zero, 1, 0, 0), []float64{0, 1, 1}},
		{"gt custom values", IndicatorGt(x, zero, 5, -5, 0), []float64{-5, -5, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, w := range tt.want {
				if tt.got.At(i) != w {
					t.Fatalf("path %d = %v, want %v", i, tt.got.At(i), w)
				}
			}
		})
	}
}

func TestSmoothedIndicatorConverges(t *testing.T) {
	x := FromSlice([]float64{-1, -0.5, 0.5, 1})
	zero := New(4, 0)
	hard := IndicatorGt(x, zero, 1, 0, 0)

	prev := math.Inf(1)
	for _, eps := range []float64{1, 0.5, 0.1, 0.01, 0.001} {
		soft := IndicatorGt(x, zero, 1, 0, eps)
		worst := 0.0
		for i := 0; i < 4; i++ {
			v := soft.At(i)
			if v < 0 || v > 1 {
				t.Fatalf("eps=%g: path %d outside [0,1]: %v", eps, i, v)
			}
			worst = math.Max(worst, math.Abs(v-hard.At(i)))
		}
		if worst > prev {
			t.Fatalf("eps=%g: error %g grew from %g", eps, worst, prev)
		}
		prev = worst
	}
	if prev > 1e-10 {
		t.Fatalf("smallest eps still %g away from the step", prev)
	}
}

func TestSmoothedIndicatorMidpoint(t *testing.T) {
	x := FromSlice([]float64{-2, 0, 2})
	got := IndicatorGeq(x, New(3, 0), 1, 0, 0.5)
	if math.Abs(got.At(1)-0.5) > 1e-15 {
		t.Fatalf("tie should sit at the midpoint, got %v", got.At(1))
	}
	if math.Abs(got.At(0)+got.At(2)-1) > 1e-12 {
		t.Fatalf("logistic should be symmetric: %v %v", got.At(0), got.At(2))
	}
}

func TestIndicatorDerivative(t *testing.T) {
	x := FromSlice([]float64{-1, 0, 1})
	if d := IndicatorDerivative(x, 0); !d.Deterministic() || d.At(0) != 0 {
		t.Fatalf("eps=0 derivative should be zero, got %v", d)
	}
	d := IndicatorDerivative(x, 0.5)
	if d.At(1) <= d.At(0) || math.Abs(d.At(0)-d.At(2)) > 1e-15 {
		t.Fatalf("derivative should peak at zero and be symmetric: %v", d)
	}
}

func TestConditionalResult(t *testing.T) {
	f := PredicateFromSlice([]bool{true, false, true})
	x := FromSlice([]float64{1, 2, 3})
	y := New(3, -1)

	got := ConditionalResult(f, x, y)
	want := []float64{1, -1, 3}
	for i, w := range want {
		if got.At(i) != w {
			t.Fatalf("path %d = %v, want %v", i, got.At(i), w)
		}
	}
	if r := ConditionalResult(NewPredicate(3, false), x, y); !r.Deterministic() || r.At(0) != -1 {
		t.Fatalf("det false should pick y, got %v", r)
	}
}

func TestFilters(t *testing.T) {
	f := PredicateFromSlice([]bool{true, false, true})
	x := FromSliceAt([]float64{4, 5, 6}, 2)

	kept := ApplyFilter(x, f)
	dropped := ApplyInverseFilter(x, f)
	for i, w := range []float64{4, 0, 6} {
		if kept.At(i) != w {
			t.Fatalf("ApplyFilter path %d = %v, want %v", i, kept.At(i), w)
		}
	}
	for i, w := range []float64{0, 5, 0} {
		if dropped.At(i) != w {
			t.Fatalf("ApplyInverseFilter path %d = %v, want %v", i, dropped.At(i), w)
		}
	}
	zero := ApplyFilter(x, NewPredicate(3, false))
	if !zero.Deterministic() || zero.At(0) != 0 {
		t.Fatalf("det false filter should give det zero, got %v", zero)
	}
	if tm, ok := zero.Time(); !ok || tm != 2 {
		t.Fatal("filtered value should keep the tag")
	}
	if x.At(1) != 5 {
		t.Fatal("filter modified its operand")
	}
}

func TestCloseEnoughAll(t *testing.T) {
	x := FromSlice([]float64{1, 1, 1 + 1e-15})
	if !CloseEnoughAll(x, New(3, 1)) {
		t.Fatal("expected close enough")
	}
	if CloseEnoughAll(FromSlice([]float64{1, 1.1, 1}), New(3, 1)) {
		t.Fatal("expected mismatch")
	}
}
