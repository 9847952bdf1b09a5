package device

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-quant/internal/fault"
	"github.com/23skdu/longbow-quant/internal/opcode"
	"github.com/23skdu/longbow-quant/internal/scenario"
)

const (
	tolDouble = scenario.Tolerance
	tolSingle = 42 * 0x1p-23
)

// bindings are the buffers one launch reads and writes.
type bindings struct {
	n      int
	input  []float64
	rn     []float64
	values []float64
	output []float64
}

func (b *bindings) load(o operand, i int, regs []float64) float64 {
	switch o.kind {
	case srcScalar:
		return b.input[o.index]
	case srcInput:
		return b.input[o.index+i]
	case srcVariate:
		return b.rn[o.index+i]
	default:
		return regs[o.index]
	}
}

// vector reads an operand over all lanes for a host step.
func (b *bindings) vector(k *Kernel, o operand) scenario.Value {
	switch o.kind {
	case srcScalar:
		return scenario.New(b.n, b.input[o.index])
	case srcInput:
		return scenario.FromSlice(b.input[o.index : o.index+b.n])
	case srcVariate:
		return scenario.FromSlice(b.rn[o.index : o.index+b.n])
	default:
		off := k.rows[o.index] * b.n
		return scenario.FromSlice(b.values[off : off+b.n])
	}
}

func round32(x float64) float64 {
	switch {
	case x > math.MaxFloat32:
		return math.MaxFloat32
	case x < -math.MaxFloat32:
		return -math.MaxFloat32
	}
	return float64(float32(x))
}

func closeEnough(x, y, tol float64) bool {
	if x == y {
		return true
	}
	diff := math.Abs(x - y)
	if x == 0 || y == 0 {
		return diff < tol*tol
	}
	return diff <= tol*math.Abs(x) || diff <= tol*math.Abs(y)
}

func indicator(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// apply evaluates one lane instruction.
func apply(op opcode.Code, a []float64, tol float64) float64 {
	switch op {
	case opcode.None:
		return a[0]
	case opcode.Add:
		return a[0] + a[1]
	case opcode.Subtract:
		return a[0] - a[1]
	case opcode.Negative:
		return -a[0]
	case opcode.Mult:
		return a[0] * a[1]
	case opcode.Div:
		return a[0] / a[1]
	case opcode.IndicatorEq:
		return indicator(closeEnough(a[0], a[1], tol))
	case opcode.IndicatorGt:
		return indicator(a[0] > a[1] && !closeEnough(a[0], a[1], tol))
	case opcode.IndicatorGeq:
		return indicator(a[0] > a[1] || closeEnough(a[0], a[1], tol))
	case opcode.Min:
		if a[1] < a[0] {
			return a[1]
		}
		return a[0]
	case opcode.Max:
		if a[0] < a[1] {
			return a[1]
		}
		return a[0]
	case opcode.Abs:
		return math.Abs(a[0])
	case opcode.Exp:
		return math.Exp(a[0])
	case opcode.Sqrt:
		return math.Sqrt(a[0])
	case opcode.Log:
		return math.Log(a[0])
	case opcode.Pow:
		return math.Pow(a[0], a[1])
	case opcode.NormalCdf:
		return 0.5 * math.Erfc(-a[0]/math.Sqrt2)
	case opcode.NormalPdf:
		e := -0.5 * a[0] * a[0]
		if e <= -690 {
			return 0
		}
		return math.Exp(e) * 0.3989422804014327
	case opcode.Sin:
		return math.Sin(a[0])
	case opcode.Cos:
		return math.Cos(a[0])
	}
	panic(fmt.Sprintf("no lane implementation for %s", op))
}

// verify checks that every register a kernel part reads was loaded or
// written before, which is what a device compiler would reject otherwise.
func (k *Kernel) verify() error {
	for _, part := range k.Parts {
		if part.Host {
			if len(part.code) != 1 {
				return k.buildError(part, 0, fmt.Errorf("host part with %d statements", len(part.code)))
			}
			continue
		}
		ready := make([]bool, k.NumLocals)
		for _, l := range part.loads {
			ready[l.local] = true
		}
		for j, in := range part.code {
			if len(in.args) > 2 {
				return k.buildError(part, len(part.loads)+j+1, fmt.Errorf("%s takes %d operands on a lane", in.op, len(in.args)))
			}
			for _, a := range in.args {
				if a.kind == srcLocal && !ready[a.index] {
					return k.buildError(part, len(part.loads)+j+1, fmt.Errorf("v%d used before assignment", a.index))
				}
			}
			ready[in.dst] = true
		}
	}
	return nil
}

func (k *Kernel) buildError(part Part, offset int, err error) error {
	// statements follow the header, the lane index and the bounds check
	line := part.line + offset
	if !part.Host {
		line += 2
	}
	return fault.Resource("device.Build", fmt.Errorf("%s: %w\n%s", part.Name, err, sourceContext(k.Source, line, 3)))
}

// exec runs the lanes of one kernel part in chunks on at most workers
// goroutines. A panic on a lane fails the launch.
func (k *Kernel) exec(part *Part, b *bindings, last bool, workers, chunk int) error {
	tol := tolDouble
	if k.Single {
		tol = tolSingle
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < b.n; start += chunk {
		end := min(start+chunk, b.n)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fault.Resourcef("device.Run", "%s: lanes %d..%d: %v", part.Name, start, end-1, r)
				}
			}()
			regs := make([]float64, k.NumLocals)
			args := make([]float64, 2)
			for i := start; i < end; i++ {
				k.lane(part, b, regs, args, i, last, tol)
			}
			return nil
		})
	}
	return g.Wait()
}

func (k *Kernel) lane(part *Part, b *bindings, regs, args []float64, i int, last bool, tol float64) {
	for _, l := range part.loads {
		regs[l.local] = b.values[l.off+i]
	}
	for _, in := range part.code {
		for j, o := range in.args {
			args[j] = b.load(o, i, regs)
		}
		r := apply(in.op, args[:len(in.args)], tol)
		if k.Single {
			r = round32(r)
		}
		regs[in.dst] = r
	}
	for _, s := range part.stores {
		b.values[s.off+i] = regs[s.local]
	}
	if last {
		for j, o := range k.outputs {
			b.output[j*b.n+i] = b.load(o, i, regs)
		}
	}
}

// host evaluates a host part over all lanes and writes its result row.
func (k *Kernel) host(part *Part, b *bindings, eval *scenario.Evaluator) error {
	in := part.code[0]
	args := make([]scenario.Value, len(in.args))
	for j, o := range in.args {
		args[j] = b.vector(k, o)
	}
	res, err := eval.Apply(in.op, args...)
	if err != nil {
		return fault.Resource("device.Run", fmt.Errorf("host %s: %w", in.op, err))
	}
	off := k.rows[in.dst] * b.n
	row := b.values[off : off+b.n]
	res.CopyTo(row)
	if k.Single {
		for i := range row {
			row[i] = round32(row[i])
		}
	}
	return nil
}
