// Package scenario implements per-path values for Monte-Carlo valuation.
//
// A Value holds one number per simulation path. When every path agrees it is
// stored as a single scalar (deterministic) and operations on it cost O(1);
// otherwise it owns a slice of N float64. Operators never write into their
// operands: each returns a fresh Value. Copying a Value by assignment shares
// the path storage, so call Clone before mutating a copy with Set.
//
// Size or time-tag mismatches are caller bugs and panic with a *fault.Error;
// use fault.Recover at API boundaries that must return errors instead.
package scenario

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-quant/internal/fault"
)

// Value is the zero-size "not applicable" value when uninitialized. It is
// absorbing: any operator with an uninitialized operand returns an
// uninitialized result.
type Value struct {
	n       int
	det     bool
	scalar  float64
	data    []float64
	time    float64
	hasTime bool
}

// New returns a deterministic value of size n.
func New(n int, v float64) Value {
	if n <= 0 {
		return Value{}
	}
	return Value{n: n, det: true, scalar: v}
}

// NewAt is New with a valuation-time tag.
func NewAt(n int, v, t float64) Value {
	x := New(n, v)
	if x.n > 0 {
		x.SetTime(t)
	}
	return x
}

// FromSlice copies values into a stochastic value of size len(values).
func FromSlice(values []float64) Value {
	if len(values) == 0 {
		return Value{}
	}
	data := make([]float64, len(values))
	copy(data, values)
	return Value{n: len(values), data: data}
}

// FromSliceAt is FromSlice with a valuation-time tag.
func FromSliceAt(values []float64, t float64) Value {
	x := FromSlice(values)
	if x.n > 0 {
		x.SetTime(t)
	}
	return x
}

// FromPredicate maps true paths to trueVal and false paths to falseVal.
func FromPredicate(f Predicate, trueVal, falseVal float64) Value {
	if !f.Initialized() {
		return Value{}
	}
	pick := func(b bool) float64 {
		if b {
			return trueVal
		}
		return falseVal
	}
	if f.det {
		return New(f.n, pick(f.scalar))
	}
	data := make([]float64, f.n)
	for i, b := range f.data {
		data[i] = pick(b)
	}
	return Value{n: f.n, data: data}
}

func (x Value) Size() int           { return x.n }
func (x Value) Initialized() bool   { return x.n > 0 }
func (x Value) Deterministic() bool { return x.det }

// Time returns the valuation-time tag and whether one is set.
func (x Value) Time() (float64, bool) { return x.time, x.hasTime }

func (x *Value) SetTime(t float64) {
	x.time = t
	x.hasTime = true
}

func (x *Value) ClearTime() {
	x.time = 0
	x.hasTime = false
}

// At returns the value on path i.
func (x Value) At(i int) float64 {
	if x.n == 0 {
		panic(fault.Configurationf("scenario.At", "index %d: value is not initialized", i))
	}
	if x.det {
		return x.scalar
	}
	if i < 0 || i >= x.n {
		panic(fault.Configurationf("scenario.At", "index %d out of bounds, size is %d", i, x.n))
	}
	return x.data[i]
}

// Set writes path i in place. A deterministic value expands only when v
// differs from its scalar.
func (x *Value) Set(i int, v float64) {
	if i < 0 || i >= x.n {
		panic(fault.Configurationf("scenario.Set", "index %d out of bounds, size is %d", i, x.n))
	}
	if x.det {
		if CloseEnough(v, x.scalar) {
			return
		}
		x.Expand()
	}
	x.data[i] = v
}

// Expand switches a deterministic value to its per-path representation.
func (x *Value) Expand() {
	if !x.det {
		return
	}
	data := make([]float64, x.n)
	for i := range data {
		data[i] = x.scalar
	}
	x.data = data
	x.det = false
}

// UpdateDeterministic folds back to a scalar when all paths are close
// enough to the first.
func (x *Value) UpdateDeterministic() {
	if x.det || x.n == 0 {
		return
	}
	first := x.data[0]
	for _, v := range x.data[1:] {
		if !CloseEnough(v, first) {
			return
		}
	}
	x.scalar = first
	x.data = nil
	x.det = true
}

// Values returns a fresh per-path slice, broadcasting deterministic values.
func (x Value) Values() []float64 {
	out := make([]float64, x.n)
	x.CopyTo(out)
	return out
}

// CopyTo writes min(len(dst), Size()) paths into dst.
func (x Value) CopyTo(dst []float64) {
	if x.det {
		for i := 0; i < len(dst) && i < x.n; i++ {
			dst[i] = x.scalar
		}
		return
	}
	copy(dst, x.data)
}

// Clone returns a value that shares no storage with x.
func (x Value) Clone() Value {
	if x.data != nil {
		data := make([]float64, len(x.data))
		copy(data, x.data)
		x.data = data
	}
	return x
}

func (x Value) String() string {
	if x.n == 0 {
		return "Value(uninitialized)"
	}
	var b strings.Builder
	if x.hasTime {
		fmt.Fprintf(&b, "Value(n=%d, t=%g, ", x.n, x.time)
	} else {
		fmt.Fprintf(&b, "Value(n=%d, ", x.n)
	}
	if x.det {
		fmt.Fprintf(&b, "det %g)", x.scalar)
		return b.String()
	}
	const shown = 4
	b.WriteString("[")
	for i := 0; i < x.n && i < shown; i++ {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%g", x.data[i])
	}
	if x.n > shown {
		b.WriteString(" ...")
	}
	b.WriteString("])")
	return b.String()
}

// get reads path i without bounds checks; callers have validated sizes.
func (x Value) get(i int) float64 {
	if x.det {
		return x.scalar
	}
	return x.data[i]
}

func checkSize(op string, x, y int) {
	if x != y {
		panic(fault.SizeMismatch(op, x, y))
	}
}

// mergeTime checks tag consistency and returns the tag of the result: x's if
// set, otherwise y's.
func mergeTime(op string, x, y Value) (float64, bool) {
	if x.hasTime && y.hasTime {
		if !CloseEnough(x.time, y.time) {
			panic(fault.InconsistentTag(op, x.time, y.time))
		}
		return x.time, true
	}
	if x.hasTime {
		return x.time, true
	}
	return y.time, y.hasTime
}

func checkTime(op string, x, y Value) {
	mergeTime(op, x, y)
}
