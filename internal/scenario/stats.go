package scenario

// Expectation is the mean over paths as a deterministic value.
func Expectation(x Value) Value {
	if !x.Initialized() || x.det {
		return x
	}
	mean := 0.0
	for i, v := range x.data {
		mean += (v - mean) / float64(i+1)
	}
	return New(x.n, mean)
}

// Variance is the population variance over paths, accumulated in one pass
// (Welford).
func Variance(x Value) Value {
	if !x.Initialized() {
		return Value{}
	}
	if x.det {
		return New(x.n, 0)
	}
	var mean, m2 float64
	for i, v := range x.data {
		d := v - mean
		mean += d / float64(i+1)
		m2 += d * (v - mean)
	}
	return New(x.n, m2/float64(x.n))
}

// Covariance is the population covariance of x and y, accumulated in one
// pass.
func Covariance(x, y Value) Value {
	if !x.Initialized() || !y.Initialized() {
		return Value{}
	}
	checkSize("scenario.Covariance", x.n, y.n)
	checkTime("scenario.Covariance", x, y)
	if x.det || y.det {
		return New(x.n, 0)
	}
	var mx, my, c float64
	for i := 0; i < x.n; i++ {
		k := float64(i + 1)
		dx := x.data[i] - mx
		mx += dx / k
		my += (y.data[i] - my) / k
		c += dx * (y.data[i] - my)
	}
	return New(x.n, c/float64(x.n))
}

// Black is the undiscounted Black76 price. omega is +1 for calls and -1 for
// puts; a zero strike call pays the forward.
func Black(omega, t, strike, forward, vol Value) Value {
	n := omega.Size()
	zero := New(n, 0)
	zeroStrike := Eq(strike, zero)
	call := Greater(omega, zero)
	stdDev := Mul(vol, Sqrt(t))
	d1 := Add(Div(Log(Div(forward, strike)), stdDev), Mul(New(n, 0.5), stdDev))
	d2 := Sub(d1, stdDev)
	price := Mul(omega, Sub(Mul(forward, NormalCdf(Mul(omega, d1))), Mul(strike, NormalCdf(Mul(omega, d2)))))
	return Add(ApplyFilter(forward, And(zeroStrike, call)), ApplyInverseFilter(price, zeroStrike))
}
