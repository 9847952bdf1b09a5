package scenario

import (
	"errors"
	"math"
	"testing"

	"github.com/23skdu/longbow-quant/internal/fault"
	"github.com/23skdu/longbow-quant/internal/opcode"
)

func TestEvaluatorCoversEveryOpCode(t *testing.T) {
	e := NewEvaluator(2, 0)
	x := FromSlice([]float64{0.5, 1.5, 2.5})
	y := New(3, 2)
	for _, c := range opcode.All() {
		lo, _ := opcode.Arity(c)
		args := []Value{x, y, x}[:lo]
		if c == opcode.ConditionalExpectation {
			args = []Value{x, New(3, 1), x}
		}
		got, err := e.Apply(c, args...)
		if err != nil {
			t.Fatalf("%s: %v", c, err)
		}
		if !got.Initialized() || got.Size() != 3 {
			t.Fatalf("%s: unexpected result %v", c, got)
		}
	}
}

func TestEvaluatorMatchesAlgebra(t *testing.T) {
	e := NewEvaluator(2, 0)
	x := FromSlice([]float64{-1, 0.25, 3})
	y := FromSlice([]float64{2, 0.25, -4})

	tests := []struct {
		code opcode.Code
		args []Value
		want Value
	}{
		{opcode.None, []Value{x}, x},
		{opcode.Add, []Value{x, y}, Add(x, y)},
		{opcode.Subtract, []Value{x, y}, Sub(x, y)},
		{opcode.Negative, []Value{x}, Neg(x)},
		{opcode.Mult, []Value{x, y}, Mul(x, y)},
		{opcode.Div, []Value{x, y}, Div(x, y)},
		{opcode.IndicatorEq, []Value{x, y}, FromSlice([]float64{0, 1, 0})},
		{opcode.IndicatorGt, []Value{x, y}, FromSlice([]float64{0, 0, 1})},
		{opcode.IndicatorGeq, []Value{x, y}, FromSlice([]float64{0, 1, 1})},
		{opcode.Min, []Value{x, y}, FromSlice([]float64{-1, 0.25, -4})},
		{opcode.Max, []Value{x, y}, FromSlice([]float64{2, 0.25, 3})},
		{opcode.Abs, []Value{x}, Abs(x)},
		{opcode.Exp, []Value{x}, Exp(x)},
		{opcode.Pow, []Value{Abs(x), y}, Pow(Abs(x), y)},
		{opcode.NormalCdf, []Value{x}, NormalCdf(x)},
		{opcode.NormalPdf, []Value{x}, NormalPdf(x)},
		{opcode.Sin, []Value{x}, Sin(x)},
		{opcode.Cos, []Value{x}, Cos(x)},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			got, err := e.Apply(tt.code, tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 3; i++ {
				if math.Abs(got.At(i)-tt.want.At(i)) > 1e-15 {
					t.Fatalf("path %d = %v, want %v", i, got.At(i), tt.want.At(i))
				}
			}
		})
	}
}

func TestEvaluatorErrors(t *testing.T) {
	e := NewEvaluator(2, 0)
	x := FromSlice([]float64{1, 2})

	tests := []struct {
		name string
		code opcode.Code
		args []Value
		want error
	}{
		{"unknown code", opcode.Code(99), []Value{x}, fault.ErrUnknownOpCode},
		{"unary with two", opcode.Exp, []Value{x, x}, fault.ErrArityMismatch},
		{"binary with one", opcode.Add, []Value{x}, fault.ErrArityMismatch},
		{"ce with one", opcode.ConditionalExpectation, []Value{x}, fault.ErrArityMismatch},
		{"size mismatch", opcode.Add, []Value{x, FromSlice([]float64{1, 2, 3})}, fault.ErrSizeMismatch},
		{"tag mismatch", opcode.Mult, []Value{NewAt(2, 1, 0), NewAt(2, 1, 1)}, fault.ErrInconsistentTag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Apply(tt.code, tt.args...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, fault.ErrConfiguration) {
				t.Fatalf("expected configuration kind, got %v", err)
			}
		})
	}
}

func TestEvaluatorSmoothedMinMax(t *testing.T) {
	a := FromSlice([]float64{-3, -1, 1, 3})
	b := New(4, 0)
	hardMax, hardMin := Max(a, b), Min(a, b)
	for _, eps := range []float64{0.5, 0.05, 1e-4} {
		e := NewEvaluator(2, eps)
		mx, err := e.Apply(opcode.Max, a, b)
		if err != nil {
			t.Fatal(err)
		}
		mn, err := e.Apply(opcode.Min, a, b)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 4; i++ {
			// max + min = a + b holds for any smoothing width
			if s := mx.At(i) + mn.At(i); math.Abs(s-a.At(i)) > 1e-12 {
				t.Fatalf("eps=%g path %d: max+min = %v, want %v", eps, i, s, a.At(i))
			}
			if eps < 1e-3 {
				if math.Abs(mx.At(i)-hardMax.At(i)) > 1e-9 || math.Abs(mn.At(i)-hardMin.At(i)) > 1e-9 {
					t.Fatalf("eps=%g path %d: smoothed %v/%v not near %v/%v",
						eps, i, mx.At(i), mn.At(i), hardMax.At(i), hardMin.At(i))
				}
			}
		}
	}
}

func TestEvaluatorConditionalExpectation(t *testing.T) {
	e := NewEvaluator(1, 0)
	xs := seq(20, 0, 0.5)
	ys := make([]float64, len(xs))
	filter := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 4 - 2*x
		filter[i] = 1
	}
	ys[3], filter[3] = 1e6, 0

	got, err := e.Apply(opcode.ConditionalExpectation, FromSlice(ys), FromSlice(filter), FromSlice(xs))
	if err != nil {
		t.Fatal(err)
	}
	for i, x := range xs {
		if math.Abs(got.At(i)-(4-2*x)) > 1e-8 {
			t.Fatalf("path %d = %v, want %v", i, got.At(i), 4-2*x)
		}
	}
}
