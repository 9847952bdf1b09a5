package scenario

import (
	"fmt"

	"github.com/23skdu/longbow-quant/internal/fault"
)

// Predicate is the boolean analogue of Value, used for masking paths without
// branching.
type Predicate struct {
	n      int
	det    bool
	scalar bool
	data   []bool
}

func NewPredicate(n int, v bool) Predicate {
	if n <= 0 {
		return Predicate{}
	}
	return Predicate{n: n, det: true, scalar: v}
}

func PredicateFromSlice(values []bool) Predicate {
	if len(values) == 0 {
		return Predicate{}
	}
	data := make([]bool, len(values))
	copy(data, values)
	return Predicate{n: len(values), data: data}
}

func (f Predicate) Size() int           { return f.n }
func (f Predicate) Initialized() bool   { return f.n > 0 }
func (f Predicate) Deterministic() bool { return f.det }

func (f Predicate) At(i int) bool {
	if f.n == 0 {
		panic(fault.Configurationf("scenario.Predicate.At", "index %d: predicate is not initialized", i))
	}
	if f.det {
		return f.scalar
	}
	if i < 0 || i >= f.n {
		panic(fault.Configurationf("scenario.Predicate.At", "index %d out of bounds, size is %d", i, f.n))
	}
	return f.data[i]
}

func (f *Predicate) Set(i int, v bool) {
	if i < 0 || i >= f.n {
		panic(fault.Configurationf("scenario.Predicate.Set", "index %d out of bounds, size is %d", i, f.n))
	}
	if f.det {
		if v == f.scalar {
			return
		}
		f.Expand()
	}
	f.data[i] = v
}

func (f *Predicate) Expand() {
	if !f.det {
		return
	}
	data := make([]bool, f.n)
	for i := range data {
		data[i] = f.scalar
	}
	f.data = data
	f.det = false
}

// UpdateDeterministic folds when every path carries the same bool.
func (f *Predicate) UpdateDeterministic() {
	if f.det || f.n == 0 {
		return
	}
	first := f.data[0]
	for _, v := range f.data[1:] {
		if v != first {
			return
		}
	}
	f.scalar = first
	f.data = nil
	f.det = true
}

func (f Predicate) Values() []bool {
	out := make([]bool, f.n)
	for i := range out {
		out[i] = f.get(i)
	}
	return out
}

func (f Predicate) Clone() Predicate {
	if f.data != nil {
		data := make([]bool, len(f.data))
		copy(data, f.data)
		f.data = data
	}
	return f
}

func (f Predicate) String() string {
	if f.n == 0 {
		return "Predicate(uninitialized)"
	}
	if f.det {
		return fmt.Sprintf("Predicate(n=%d, det %t)", f.n, f.scalar)
	}
	return fmt.Sprintf("Predicate(n=%d, %d true)", f.n, f.count())
}

func (f Predicate) get(i int) bool {
	if f.det {
		return f.scalar
	}
	return f.data[i]
}

func (f Predicate) count() int {
	c := 0
	for i := 0; i < f.n; i++ {
		if f.get(i) {
			c++
		}
	}
	return c
}

func (f Predicate) isConst(v bool) bool {
	return f.det && f.scalar == v
}

func logical(x, y Predicate, g func(a, b bool) bool) Predicate {
	if x.det && y.det {
		return NewPredicate(x.n, g(x.scalar, y.scalar))
	}
	data := make([]bool, x.n)
	for i := range data {
		data[i] = g(x.get(i), y.get(i))
	}
	return Predicate{n: x.n, data: data}
}

// And short-circuits to all-false on a deterministic false operand, without
// reading the other side. That holds even if the other side is uninitialized.
func And(x, y Predicate) Predicate {
	if x.Initialized() && y.Initialized() {
		checkSize("scenario.And", x.n, y.n)
	}
	if x.isConst(false) {
		return NewPredicate(x.n, false)
	}
	if y.isConst(false) {
		return NewPredicate(y.n, false)
	}
	if !x.Initialized() || !y.Initialized() {
		return Predicate{}
	}
	if y.isConst(true) {
		return x.Clone()
	}
	if x.isConst(true) {
		return y.Clone()
	}
	return logical(x, y, func(a, b bool) bool { return a && b })
}

// Or short-circuits to all-true on a deterministic true operand.
func Or(x, y Predicate) Predicate {
	if x.Initialized() && y.Initialized() {
		checkSize("scenario.Or", x.n, y.n)
	}
	if x.isConst(true) {
		return NewPredicate(x.n, true)
	}
	if y.isConst(true) {
		return NewPredicate(y.n, true)
	}
	if !x.Initialized() || !y.Initialized() {
		return Predicate{}
	}
	if y.isConst(false) {
		return x.Clone()
	}
	if x.isConst(false) {
		return y.Clone()
	}
	return logical(x, y, func(a, b bool) bool { return a || b })
}

func Not(x Predicate) Predicate {
	if !x.Initialized() {
		return Predicate{}
	}
	if x.det {
		return NewPredicate(x.n, !x.scalar)
	}
	data := make([]bool, x.n)
	for i, v := range x.data {
		data[i] = !v
	}
	return Predicate{n: x.n, data: data}
}

// Equal is the pathwise boolean equivalence of x and y.
func Equal(x, y Predicate) Predicate {
	if !x.Initialized() || !y.Initialized() {
		return Predicate{}
	}
	checkSize("scenario.Equal", x.n, y.n)
	return logical(x, y, func(a, b bool) bool { return a == b })
}
