package compute

import (
	"strconv"

	"github.com/23skdu/longbow-quant/internal/fault"
	"github.com/23skdu/longbow-quant/internal/metrics"
	"github.com/23skdu/longbow-quant/internal/rng"
	"github.com/23skdu/longbow-quant/internal/scenario"
)

// CPUDeviceName is the registry name of the reference backend.
const CPUDeviceName = "BasicCpu/Default/Default"

// CPUContext is the reference backend. It replays recorded programs with the
// eager scenario evaluator and draws variates from the same stream as the
// accelerator, so both agree path by path.
type CPUContext struct {
	*Recorder
	pool  *rng.Pool
	evals map[int]*scenario.Evaluator

	// current round
	inputs  []float64
	results []scenario.Value
}

func NewCPUContext() *CPUContext {
	c := &CPUContext{
		pool:  rng.NewPool(),
		evals: make(map[int]*scenario.Evaluator),
	}
	c.Recorder = NewRecorder(CPUDeviceName, c)
	return c
}

func (c *CPUContext) Init() error { return nil }

func (c *CPUContext) Close() {
	c.ReleaseAll()
	c.pool.Reset()
	c.results = nil
}

func (c *CPUContext) DeviceInfo() []InfoField {
	return []InfoField{
		{Key: "device_name", Value: CPUDeviceName},
		{Key: "double_precision", Value: "true"},
		{Key: "variate_pool_size", Value: strconv.Itoa(c.pool.Len())},
	}
}

func (c *CPUContext) SupportsDoublePrecision() bool { return true }

func (c *CPUContext) Build(s *Slot, settings Settings) error {
	c.evals[s.ID] = scenario.NewEvaluator(settings.RegressionOrder, settings.SmoothingEps)
	return nil
}

func (c *CPUContext) Upload(s *Slot, inputs []float64, settings Settings) error {
	c.inputs = inputs
	if n := s.Program.NVariates * s.N; n > 0 {
		if c.pool.Ensure(settings.RNGSeed, n) {
			metrics.RecordVariatePool(c.pool.Len())
		}
	}
	return nil
}

func (c *CPUContext) Run(s *Slot, settings Settings) error {
	e, ok := c.evals[s.ID]
	if !ok {
		return fault.Resourcef("cpu.Run", "id (%d) has no program", s.ID)
	}
	p := &s.Program
	n := s.N
	vals := make([]scenario.Value, p.NumIDs())
	for i, in := range p.Inputs {
		if in.Scalar {
			vals[i] = scenario.New(n, c.inputs[in.Offset])
		} else {
			vals[i] = scenario.FromSlice(c.inputs[in.Offset : in.Offset+n])
		}
	}
	variates := c.pool.Data()
	for v := 0; v < p.NVariates; v++ {
		vals[p.FirstVariate()+v] = scenario.FromSlice(variates[v*n : (v+1)*n])
	}
	args := make([]scenario.Value, 0, 4)
	for _, st := range p.Statements {
		args = args[:0]
		for _, a := range st.Args {
			args = append(args, vals[a])
		}
		res, err := e.Apply(st.Op, args...)
		if err != nil {
			return err
		}
		vals[st.Result] = res
	}
	c.results = c.results[:0]
	for _, id := range p.Outputs {
		c.results = append(c.results, vals[id])
	}
	return nil
}

func (c *CPUContext) Download(s *Slot, out [][]float64, settings Settings) error {
	for k, v := range c.results {
		v.CopyTo(out[k][:s.N])
	}
	c.results = c.results[:0]
	c.inputs = nil
	return nil
}

func (c *CPUContext) Release(s *Slot) {
	delete(c.evals, s.ID)
}
