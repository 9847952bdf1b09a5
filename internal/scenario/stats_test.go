package scenario

import (
	"math"
	"testing"
)

func twoPass(xs, ys []float64) (mx, my, cov float64) {
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(len(xs))
	my /= float64(len(ys))
	for i := range xs {
		cov += (xs[i] - mx) * (ys[i] - my)
	}
	return mx, my, cov / float64(len(xs))
}

func TestReductionsMatchTwoPass(t *testing.T) {
	xs := make([]float64, 200)
	ys := make([]float64, 200)
	for i := range xs {
		xs[i] = math.Sin(float64(i)*0.37) + 1e3
		ys[i] = math.Cos(float64(i)*0.11) * 2.5
	}
	x, y := FromSlice(xs), FromSlice(ys)
	mx, _, vx := twoPass(xs, xs)
	_, _, cxy := twoPass(xs, ys)

	if got := Expectation(x); !got.Deterministic() || math.Abs(got.At(0)-mx) > 1e-10 {
		t.Errorf("Expectation = %v, want %v", got, mx)
	}
	if got := Variance(x); math.Abs(got.At(0)-vx) > 1e-10 {
		t.Errorf("Variance = %v, want %v", got.At(0), vx)
	}
	if got := Covariance(x, y); math.Abs(got.At(0)-cxy) > 1e-10 {
		t.Errorf("Covariance = %v, want %v", got.At(0), cxy)
	}
	if got := Covariance(x, x); math.Abs(got.At(0)-vx) > 1e-10 {
		t.Errorf("Covariance(x, x) = %v, want variance %v", got.At(0), vx)
	}
}

func TestReductionsDeterministic(t *testing.T) {
	c := NewAt(10, 4, 1)
	if e := Expectation(c); e.At(0) != 4 {
		t.Fatalf("Expectation of constant = %v", e)
	}
	if v := Variance(c); !v.Deterministic() || v.At(0) != 0 {
		t.Fatalf("Variance of constant = %v", v)
	}
	if v := Covariance(c, FromSlice(seq(10, 0, 1))); v.At(0) != 0 {
		t.Fatalf("Covariance with constant = %v", v)
	}
	if Expectation(Value{}).Initialized() {
		t.Fatal("Expectation of uninitialized should stay uninitialized")
	}
}

func TestBlackReferencePrice(t *testing.T) {
	const n = 3
	forward := FromSlice([]float64{100, 100, 120})
	strike := New(n, 100)
	vol := New(n, 0.2)
	tt := New(n, 1)

	call := Black(New(n, 1), tt, strike, forward, vol)
	put := Black(New(n, -1), tt, strike, forward, vol)

	const atm = 7.965567455405804
	if math.Abs(call.At(0)-atm) > 1e-9 {
		t.Fatalf("ATM call = %v, want %v", call.At(0), atm)
	}
	for i := 0; i < n; i++ {
		parity := call.At(i) - put.At(i) - (forward.At(i) - strike.At(i))
		if math.Abs(parity) > 1e-10 {
			t.Fatalf("put-call parity broken on path %d: %v", i, parity)
		}
	}
}

func TestBlackZeroStrike(t *testing.T) {
	forward := FromSlice([]float64{90, 110})
	zero := New(2, 0)
	call := Black(New(2, 1), New(2, 1), zero, forward, New(2, 0.3))
	put := Black(New(2, -1), New(2, 1), zero, forward, New(2, 0.3))
	for i := 0; i < 2; i++ {
		if call.At(i) != forward.At(i) {
			t.Fatalf("zero strike call = %v, want forward %v", call.At(i), forward.At(i))
		}
		if put.At(i) != 0 {
			t.Fatalf("zero strike put = %v, want 0", put.At(i))
		}
	}
}
