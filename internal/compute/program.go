package compute

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-quant/internal/opcode"
)

// IDKind classifies an operand id.
type IDKind int

const (
	KindInput IDKind = iota
	KindVariate
	KindLocal
)

func (k IDKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindVariate:
		return "variate"
	default:
		return "local"
	}
}

// Input is the position of one staged input in the flat input buffer. A
// scalar occupies one slot, a per-path input N slots.
type Input struct {
	Scalar bool
	Offset int
}

// Statement is one recorded operation.
type Statement struct {
	Op     opcode.Code
	Result int
	Args   []int
}

func (s Statement) String() string {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = fmt.Sprintf("%d", a)
	}
	return fmt.Sprintf("%d = %s(%s)", s.Result, s.Op, strings.Join(args, ", "))
}

// Program is the portable trace of one calculation. Operand ids are laid out
// as inputs, then variates, then locals.
type Program struct {
	N          int
	Inputs     []Input
	NVariates  int
	NLocals    int
	Statements []Statement
	Outputs    []int
}

// FirstVariate is the id of the first variate.
func (p *Program) FirstVariate() int { return len(p.Inputs) }

// FirstLocal is the id of the first computed value.
func (p *Program) FirstLocal() int { return len(p.Inputs) + p.NVariates }

func (p *Program) NumIDs() int { return p.FirstLocal() + p.NLocals }

func (p *Program) Kind(id int) IDKind {
	switch {
	case id < len(p.Inputs):
		return KindInput
	case id < p.FirstLocal():
		return KindVariate
	default:
		return KindLocal
	}
}

// InputBufferSize is the number of float slots the inputs occupy.
func (p *Program) InputBufferSize() int {
	if len(p.Inputs) == 0 {
		return 0
	}
	last := p.Inputs[len(p.Inputs)-1]
	if last.Scalar {
		return last.Offset + 1
	}
	return last.Offset + p.N
}

// NumOperations counts pathwise operations, statements times paths.
func (p *Program) NumOperations() int64 {
	return int64(len(p.Statements)) * int64(p.N)
}

// appendInput extends the layout with one input and returns its id.
func (p *Program) appendInput(scalar bool) int {
	p.Inputs = append(p.Inputs, Input{Scalar: scalar, Offset: p.InputBufferSize()})
	return len(p.Inputs) - 1
}

func (p *Program) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "program n=%d inputs=%d variates=%d locals=%d\n", p.N, len(p.Inputs), p.NVariates, p.NLocals)
	for _, s := range p.Statements {
		fmt.Fprintf(&b, "  %s\n", s)
	}
	fmt.Fprintf(&b, "  outputs %v\n", p.Outputs)
	return b.String()
}
