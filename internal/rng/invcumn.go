package rng

import "math"

// Acklam's rational approximation of the inverse cumulative normal.
const (
	a1 = -3.969683028665376e+01
	a2 = 2.209460984245205e+02
	a3 = -2.759285104469687e+02
	a4 = 1.383577518672690e+02
	a5 = -3.066479806614716e+01
	a6 = 2.506628277459239e+00

	b1 = -5.447609879822406e+01
	b2 = 1.615858368580409e+02
	b3 = -1.556989798598866e+02
	b4 = 6.680131188771972e+01
	b5 = -1.328068155288572e+01

	c1 = -7.784894002430293e-03
	c2 = -3.223964580411365e-01
	c3 = -2.400758277161838e+00
	c4 = -2.549732539343734e+00
	c5 = 4.374664141464968e+00
	c6 = 2.938163982698783e+00

	d1 = 7.784695709041462e-03
	d2 = 3.224671290700398e-01
	d3 = 2.445134137142996e+00
	d4 = 3.754408661907416e+00

	xLow  = 0.02425
	xHigh = 1 - xLow
)

// Uniform maps a 32-bit draw to the open interval (0, 1).
func Uniform(x0 uint32) float64 {
	return (float64(x0) + 0.5) / 4294967296.0
}

// InvCumN turns a 32-bit draw into a standard normal variate. The extreme
// draws 0 and MaxUint32 map to -MaxFloat64 and +MaxFloat64.
func InvCumN(x0 uint32) float64 {
	x := Uniform(x0)
	if x < xLow || xHigh < x {
		switch x0 {
		case math.MaxUint32:
			return math.MaxFloat64
		case 0:
			return -math.MaxFloat64
		}
		if x < xLow {
			z := math.Sqrt(-2 * math.Log(x))
			return (((((c1*z+c2)*z+c3)*z+c4)*z+c5)*z + c6) /
				((((d1*z+d2)*z+d3)*z+d4)*z + 1)
		}
		z := math.Sqrt(-2 * math.Log(1-x))
		return -(((((c1*z+c2)*z+c3)*z+c4)*z+c5)*z + c6) /
			((((d1*z+d2)*z+d3)*z+d4)*z + 1)
	}
	z := x - 0.5
	r := z * z
	return (((((a1*r+a2)*r+a3)*r+a4)*r+a5)*r + a6) * z /
		(((((b1*r+b2)*r+b3)*r+b4)*r+b5)*r + 1)
}
