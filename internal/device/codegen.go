package device

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-quant/internal/compute"
	"github.com/23skdu/longbow-quant/internal/fault"
	"github.com/23skdu/longbow-quant/internal/opcode"
)

// DefaultMaxKernelLines bounds the statements of one kernel part.
const DefaultMaxKernelLines = 16384

// Options control how a program is lowered.
type Options struct {
	SinglePrecision bool
	MaxKernelLines  int
	// SmoothingEps != 0 moves IndicatorGt, IndicatorGeq, Min and Max to the
	// host: the smoothing width is a mean over all lanes.
	SmoothingEps float64
}

type srcKind uint8

const (
	srcScalar  srcKind = iota // input[off]
	srcInput                  // input[off+i]
	srcVariate                // rn[off+i]
	srcLocal                  // register
)

type operand struct {
	kind srcKind
	// buffer offset for inputs and variates, local index for registers
	index int
}

type instr struct {
	op   opcode.Code
	dst  int
	args []operand
}

// bufRef ties a local to its row in the values buffer.
type bufRef struct {
	local int
	off   int
}

// Part is one kernel, or one statement evaluated on the host between kernels.
type Part struct {
	// Name is the kernel entry point; empty for host parts.
	Name       string
	Host       bool
	Statements []compute.Statement

	code   []instr
	loads  []bufRef
	stores []bufRef
	// first source line of the part
	line int
}

// Kernel is a lowered program: source text for diagnostics plus the lane
// program the executor runs.
type Kernel struct {
	N         int
	Single    bool
	Parts     []Part
	NumLocals int
	Source    string

	outputs []operand
	rows    map[int]int
}

// NumBuffered is the number of locals that live in the values buffer between
// parts.
func (k *Kernel) NumBuffered() int { return len(k.rows) }

// KernelNames lists the device entry points in launch order.
func (k *Kernel) KernelNames() []string {
	var names []string
	for _, p := range k.Parts {
		if !p.Host {
			names = append(names, p.Name)
		}
	}
	return names
}

func (o Options) hostOp(op opcode.Code) bool {
	switch op {
	case opcode.ConditionalExpectation:
		return true
	case opcode.IndicatorGt, opcode.IndicatorGeq, opcode.Min, opcode.Max:
		return o.SmoothingEps != 0
	}
	return false
}

func operandOf(p *compute.Program, id int) operand {
	switch p.Kind(id) {
	case compute.KindInput:
		in := p.Inputs[id]
		if in.Scalar {
			return operand{kind: srcScalar, index: in.Offset}
		}
		return operand{kind: srcInput, index: in.Offset}
	case compute.KindVariate:
		return operand{kind: srcVariate, index: (id - p.FirstVariate()) * p.N}
	default:
		return operand{kind: srcLocal, index: id - p.FirstLocal()}
	}
}

// GenerateKernel lowers p. The program is cut into parts at every statement
// that needs all lanes at once and wherever a kernel would exceed
// MaxKernelLines statements. The last part is always a kernel; it writes the
// outputs.
func GenerateKernel(p *compute.Program, opt Options) (*Kernel, error) {
	const op = "device.GenerateKernel"
	if p.N <= 0 {
		return nil, fault.Resourcef(op, "program has no paths")
	}
	maxLines := opt.MaxKernelLines
	if maxLines <= 0 {
		maxLines = DefaultMaxKernelLines
	}
	k := &Kernel{N: p.N, Single: opt.SinglePrecision, NumLocals: p.NLocals, rows: make(map[int]int)}

	cur := Part{}
	closeKernel := func() {
		if len(cur.code) > 0 {
			k.Parts = append(k.Parts, cur)
		}
		cur = Part{}
	}
	for _, st := range p.Statements {
		if !st.Op.Valid() {
			return nil, fault.Resource(op, fmt.Errorf("%w: %d", fault.ErrUnknownOpCode, st.Op))
		}
		in := instr{op: st.Op, dst: st.Result - p.FirstLocal()}
		for _, a := range st.Args {
			in.args = append(in.args, operandOf(p, a))
		}
		if opt.hostOp(st.Op) {
			closeKernel()
			k.Parts = append(k.Parts, Part{Host: true, Statements: []compute.Statement{st}, code: []instr{in}})
			continue
		}
		if len(cur.code) == maxLines {
			closeKernel()
		}
		cur.Statements = append(cur.Statements, st)
		cur.code = append(cur.code, in)
	}
	k.Parts = append(k.Parts, cur)
	for _, id := range p.Outputs {
		k.outputs = append(k.outputs, operandOf(p, id))
	}

	k.assignBuffers()
	n := 0
	for i := range k.Parts {
		if !k.Parts[i].Host {
			k.Parts[i].Name = fmt.Sprintf("ore_kernel_%d", n)
			n++
		}
	}
	k.Source = k.generateSource(p)
	return k, nil
}

// assignBuffers decides which locals cross a part boundary and fills the
// load and store lists of each kernel part. Host parts read and write the
// values buffer directly.
func (k *Kernel) assignBuffers() {
	def := make([]int, k.NumLocals)
	for i := range def {
		def[i] = -1
	}
	buffered := make([]bool, k.NumLocals)
	last := len(k.Parts) - 1
	for pi, part := range k.Parts {
		for _, in := range part.code {
			for _, a := range in.args {
				if a.kind == srcLocal && (part.Host || def[a.index] != pi) {
					buffered[a.index] = true
				}
			}
			def[in.dst] = pi
			if part.Host {
				buffered[in.dst] = true
			}
		}
		if pi == last {
			for _, o := range k.outputs {
				if o.kind == srcLocal && def[o.index] != pi {
					buffered[o.index] = true
				}
			}
		}
	}
	for l, b := range buffered {
		if b {
			k.rows[l] = len(k.rows)
		}
	}

	for pi := range k.Parts {
		part := &k.Parts[pi]
		if part.Host {
			continue
		}
		written := make(map[int]bool)
		loaded := make(map[int]bool)
		read := func(o operand) {
			if o.kind != srcLocal || written[o.index] || loaded[o.index] {
				return
			}
			if _, ok := k.rows[o.index]; ok {
				loaded[o.index] = true
				part.loads = append(part.loads, k.ref(o.index))
			}
		}
		for _, in := range part.code {
			for _, a := range in.args {
				read(a)
			}
			if !written[in.dst] {
				written[in.dst] = true
				if _, ok := k.rows[in.dst]; ok {
					part.stores = append(part.stores, k.ref(in.dst))
				}
			}
		}
		if pi == last {
			for _, o := range k.outputs {
				read(o)
			}
		}
	}
}

func (k *Kernel) ref(local int) bufRef {
	return bufRef{local: local, off: k.rows[local] * k.N}
}

type helper int

const (
	helperCloseEnough helper = iota
	helperIndicatorEq
	helperIndicatorGt
	helperIndicatorGeq
	helperNormalCdf
	helperNormalPdf
	helperMin
	helperMax
	numHelpers
)

// helper sources; %[1]s is the float type, %[2]s the literal suffix, %[3]s
// the machine epsilon.
var helperSource = [numHelpers]string{
	helperCloseEnough: `bool ore_closeEnough(const %[1]s x, const %[1]s y) {
    const %[1]s tol = 42.0%[2]s * %[3]s;
    %[1]s diff = fabs(x - y);
    if (x == 0.0%[2]s || y == 0.0%[2]s)
        return diff < tol * tol;
    return diff <= tol * fabs(x) || diff <= tol * fabs(y);
}
`,
	helperIndicatorEq:  "%[1]s ore_indicatorEq(const %[1]s x, const %[1]s y) { return ore_closeEnough(x, y) ? 1.0%[2]s : 0.0%[2]s; }\n",
	helperIndicatorGt:  "%[1]s ore_indicatorGt(const %[1]s x, const %[1]s y) { return x > y && !ore_closeEnough(x, y) ? 1.0%[2]s : 0.0%[2]s; }\n",
	helperIndicatorGeq: "%[1]s ore_indicatorGeq(const %[1]s x, const %[1]s y) { return x > y || ore_closeEnough(x, y) ? 1.0%[2]s : 0.0%[2]s; }\n",
	helperNormalCdf:    "%[1]s ore_normalCdf(const %[1]s x) { return 0.5%[2]s * erfc(-x * M_SQRT1_2); }\n",
	helperNormalPdf: `%[1]s ore_normalPdf(const %[1]s x) {
    %[1]s exponent = -(x * x) / 2.0%[2]s;
    return exponent <= -690.0%[2]s ? 0.0%[2]s : exp(exponent) * 0.3989422804014327%[2]s;
}
`,
	// not fmin/fmax: a NaN first operand is kept
	helperMin: "%[1]s ore_min(const %[1]s x, const %[1]s y) { return y < x ? y : x; }\n",
	helperMax: "%[1]s ore_max(const %[1]s x, const %[1]s y) { return x < y ? y : x; }\n",
}

func helpersFor(op opcode.Code) []helper {
	switch op {
	case opcode.IndicatorEq:
		return []helper{helperCloseEnough, helperIndicatorEq}
	case opcode.IndicatorGt:
		return []helper{helperCloseEnough, helperIndicatorGt}
	case opcode.IndicatorGeq:
		return []helper{helperCloseEnough, helperIndicatorGeq}
	case opcode.NormalCdf:
		return []helper{helperNormalCdf}
	case opcode.NormalPdf:
		return []helper{helperNormalPdf}
	case opcode.Min:
		return []helper{helperMin}
	case opcode.Max:
		return []helper{helperMax}
	}
	return nil
}

func expression(op opcode.Code, a []string) string {
	switch op {
	case opcode.None:
		return a[0]
	case opcode.Add:
		return a[0] + "+" + a[1]
	case opcode.Subtract:
		return a[0] + "-" + a[1]
	case opcode.Negative:
		return "-" + a[0]
	case opcode.Mult:
		return a[0] + "*" + a[1]
	case opcode.Div:
		return a[0] + "/" + a[1]
	case opcode.IndicatorEq:
		return "ore_indicatorEq(" + a[0] + "," + a[1] + ")"
	case opcode.IndicatorGt:
		return "ore_indicatorGt(" + a[0] + "," + a[1] + ")"
	case opcode.IndicatorGeq:
		return "ore_indicatorGeq(" + a[0] + "," + a[1] + ")"
	case opcode.Min:
		return "ore_min(" + a[0] + "," + a[1] + ")"
	case opcode.Max:
		return "ore_max(" + a[0] + "," + a[1] + ")"
	case opcode.Abs:
		return "fabs(" + a[0] + ")"
	case opcode.Exp:
		return "exp(" + a[0] + ")"
	case opcode.Sqrt:
		return "sqrt(" + a[0] + ")"
	case opcode.Log:
		return "log(" + a[0] + ")"
	case opcode.Pow:
		return "pow(" + a[0] + "," + a[1] + ")"
	case opcode.NormalCdf:
		return "ore_normalCdf(" + a[0] + ")"
	case opcode.NormalPdf:
		return "ore_normalPdf(" + a[0] + ")"
	case opcode.Sin:
		return "sin(" + a[0] + ")"
	case opcode.Cos:
		return "cos(" + a[0] + ")"
	}
	return op.String() + "(" + strings.Join(a, ",") + ")"
}

func operandString(o operand) string {
	switch o.kind {
	case srcScalar:
		return fmt.Sprintf("input[%dUL]", o.index)
	case srcInput:
		return fmt.Sprintf("input[%dUL+i]", o.index)
	case srcVariate:
		return fmt.Sprintf("rn[%dUL+i]", o.index)
	default:
		return fmt.Sprintf("v%d", o.index)
	}
}

func (k *Kernel) generateSource(p *compute.Program) string {
	fp, suffix, eps := "double", "", "0x1.0p-52"
	if k.Single {
		fp, suffix, eps = "float", "f", "0x1.0p-23f"
	}

	var used [numHelpers]bool
	for _, part := range k.Parts {
		if part.Host {
			continue
		}
		for _, in := range part.code {
			for _, h := range helpersFor(in.op) {
				used[h] = true
			}
		}
	}
	var b strings.Builder
	for h, ok := range used {
		if ok {
			fmt.Fprintf(&b, helperSource[h], fp, suffix, eps)
		}
	}

	args := func(o []operand) []string {
		s := make([]string, len(o))
		for i := range o {
			s[i] = operandString(o[i])
		}
		return s
	}
	last := len(k.Parts) - 1
	for pi := range k.Parts {
		part := &k.Parts[pi]
		part.line = strings.Count(b.String(), "\n") + 1
		if part.Host {
			in := part.code[0]
			fmt.Fprintf(&b, "// host: v%d=%s(%s)\n", in.dst, in.op, strings.Join(args(in.args), ","))
			continue
		}
		var params []string
		if len(p.Inputs) > 0 {
			params = append(params, "__global "+fp+"* input")
		}
		if p.NVariates > 0 {
			params = append(params, "__global "+fp+"* rn")
		}
		if len(k.rows) > 0 {
			params = append(params, "__global "+fp+"* values")
		}
		if pi == last && len(k.outputs) > 0 {
			params = append(params, "__global "+fp+"* output")
		}
		fmt.Fprintf(&b, "__kernel void %s(%s) {\n", part.Name, strings.Join(params, ","))
		b.WriteString("unsigned long i = get_global_id(0);\n")
		fmt.Fprintf(&b, "if(i < %dUL) {\n", k.N)

		declared := make(map[int]bool)
		for _, l := range part.loads {
			declared[l.local] = true
			fmt.Fprintf(&b, "%s v%d=values[%dUL+i];\n", fp, l.local, l.off)
		}
		for _, in := range part.code {
			lhs := fmt.Sprintf("v%d", in.dst)
			if !declared[in.dst] {
				declared[in.dst] = true
				lhs = fp + " " + lhs
			}
			fmt.Fprintf(&b, "%s=%s;\n", lhs, expression(in.op, args(in.args)))
		}
		for _, s := range part.stores {
			fmt.Fprintf(&b, "values[%dUL+i]=v%d;\n", s.off, s.local)
		}
		if pi == last {
			for j, o := range k.outputs {
				fmt.Fprintf(&b, "output[i+%dUL]=%s;\n", j*k.N, operandString(o))
			}
		}
		b.WriteString("}}\n")
	}
	return b.String()
}

// sourceContext returns the lines of src around line (1-based), numbered,
// for build diagnostics.
func sourceContext(src string, line, radius int) string {
	lines := strings.Split(strings.TrimRight(src, "\n"), "\n")
	from := max(line-radius, 1)
	to := min(line+radius, len(lines))
	var b strings.Builder
	for i := from; i <= to; i++ {
		mark := "  "
		if i == line {
			mark = "> "
		}
		fmt.Fprintf(&b, "%s%5d | %s\n", mark, i, lines[i-1])
	}
	return b.String()
}
