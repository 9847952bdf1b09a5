// Package opcode is the closed set of elementwise operations understood by the
// eager evaluator and by every backend's lowering.
package opcode

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-quant/internal/fault"
)

type Code int

// Values are part of the recorded program format and must not be renumbered.
const (
	None Code = iota
	Add
	Subtract
	Negative
	Mult
	Div
	ConditionalExpectation
	IndicatorEq
	IndicatorGt
	IndicatorGeq
	Min
	Max
	Abs
	Exp
	Sqrt
	Log
	Pow
	NormalCdf
	NormalPdf
	Sin
	Cos

	numCodes
)

// variadic marks an op that accepts minArgs or more operands.
const variadic = -1

type info struct {
	label   string
	minArgs int
	maxArgs int
}

var table = [numCodes]info{
	None:                   {"None", 1, 1},
	Add:                    {"Add", 2, 2},
	Subtract:               {"Subtract", 2, 2},
	Negative:               {"Negative", 1, 1},
	Mult:                   {"Mult", 2, 2},
	Div:                    {"Div", 2, 2},
	ConditionalExpectation: {"ConditionalExpectation", 2, variadic},
	IndicatorEq:            {"IndicatorEq", 2, 2},
	IndicatorGt:            {"IndicatorGt", 2, 2},
	IndicatorGeq:           {"IndicatorGeq", 2, 2},
	Min:                    {"Min", 2, 2},
	Max:                    {"Max", 2, 2},
	Abs:                    {"Abs", 1, 1},
	Exp:                    {"Exp", 1, 1},
	Sqrt:                   {"Sqrt", 1, 1},
	Log:                    {"Log", 1, 1},
	Pow:                    {"Pow", 2, 2},
	NormalCdf:              {"NormalCdf", 1, 1},
	NormalPdf:              {"NormalPdf", 1, 1},
	Sin:                    {"Sin", 1, 1},
	Cos:                    {"Cos", 1, 1},
}

func (c Code) Valid() bool {
	return c >= 0 && c < numCodes
}

func (c Code) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
	return table[c].label
}

// Label is the diagnostic name of c.
func Label(c Code) string {
	return c.String()
}

// Arity returns the operand bounds for c; max is -1 for variadic ops.
func Arity(c Code) (min, max int) {
	if !c.Valid() {
		return 0, 0
	}
	return table[c].minArgs, table[c].maxArgs
}

// Validate checks that c is a known op code applied to nargs operands.
func Validate(c Code, nargs int) error {
	if !c.Valid() {
		return fault.Configuration("opcode", fmt.Errorf("%w: %d", fault.ErrUnknownOpCode, int(c)))
	}
	in := table[c]
	if nargs < in.minArgs || (in.maxArgs != variadic && nargs > in.maxArgs) {
		want := fmt.Sprintf("%d", in.minArgs)
		if in.maxArgs == variadic {
			want = fmt.Sprintf("at least %d", in.minArgs)
		}
		return fault.Configuration("opcode", fmt.Errorf("%w: %s expects %s operand(s), got %d",
			fault.ErrArityMismatch, in.label, want, nargs))
	}
	return nil
}

// Parse resolves a label (case-insensitive) to its code.
func Parse(label string) (Code, error) {
	for c := Code(0); c < numCodes; c++ {
		if strings.EqualFold(table[c].label, label) {
			return c, nil
		}
	}
	return 0, fault.Configuration("opcode", fmt.Errorf("%w: %q", fault.ErrUnknownOpCode, label))
}

// All lists every code in numeric order.
func All() []Code {
	res := make([]Code, 0, numCodes)
	for c := Code(0); c < numCodes; c++ {
		res = append(res, c)
	}
	return res
}

func IsUnary(c Code) bool {
	return c.Valid() && table[c].minArgs == 1 && table[c].maxArgs == 1
}

func IsBinary(c Code) bool {
	return c.Valid() && table[c].minArgs == 2 && table[c].maxArgs == 2
}
