// Package compute defines the backend-neutral recording protocol used to
// evaluate a pricing formula on many paths at once.
//
// A caller opens a round with InitiateCalculation, stages inputs and
// variates, records operations by op code, declares outputs and finally runs
// the round with FinalizeCalculation. The first round on a calculation id
// records the program; later rounds with the same version only rebind input
// values and replay it. Contexts are driven by one goroutine and are not safe
// for concurrent use.
package compute

import (
	"github.com/23skdu/longbow-quant/internal/opcode"
	"github.com/23skdu/longbow-quant/internal/rng"
)

// Settings are supplied per round. Once a slot is built, replays of the
// same version keep its precision, smoothing eps and regression order; only
// the seed and the debug flag take effect.
type Settings struct {
	Debug              bool    `yaml:"debug"`
	UseDoublePrecision bool    `yaml:"use_double_precision"`
	RNGSeed            uint64  `yaml:"rng_seed"`
	RegressionOrder    int     `yaml:"regression_order"`
	SmoothingEps       float64 `yaml:"smoothing_eps"`
}

func DefaultSettings() Settings {
	return Settings{
		UseDoublePrecision: true,
		RNGSeed:            rng.DefaultSeed,
		RegressionOrder:    2,
	}
}

// DebugInfo accumulates over rounds run with Settings.Debug set.
type DebugInfo struct {
	NumberOfOperations      int64
	NanoSecondsDataCopy     int64
	NanoSecondsProgramBuild int64
	NanoSecondsCalculation  int64
}

// InfoField is one key/value line of device information.
type InfoField struct {
	Key   string
	Value string
}

// Context is implemented by every backend.
type Context interface {
	Init() error
	Close()

	InitiateCalculation(n, id, version int, settings Settings) (slot int, newCalc bool, err error)
	CreateInputVariable(v float64) (int, error)
	CreateInputVariableArray(v []float64) (int, error)
	CreateInputVariates(dim, steps int) ([][]int, error)
	ApplyOperation(op opcode.Code, args ...int) (int, error)
	FreeVariable(id int) error
	DeclareOutputVariable(id int) error
	FinalizeCalculation(out [][]float64) error
	AbortCalculation()
	DisposeCalculation(id int) error

	DeviceInfo() []InfoField
	SupportsDoublePrecision() bool
	DebugInfo() DebugInfo
}
