package scenario

import "math"

// Tolerance used by CloseEnough: 42 machine epsilons, matching the helper
// emitted into device kernels.
const (
	closeEnoughUlps = 42
	machineEpsilon  = 0x1p-52
	Tolerance       = closeEnoughUlps * machineEpsilon
)

// CloseEnough compares with a relative band of Tolerance. When either side is
// exactly zero the band becomes the absolute Tolerance^2.
func CloseEnough(x, y float64) bool {
	if x == y {
		return true
	}
	diff := math.Abs(x - y)
	if x == 0 || y == 0 {
		return diff < Tolerance*Tolerance
	}
	return diff <= Tolerance*math.Abs(x) || diff <= Tolerance*math.Abs(y)
}
