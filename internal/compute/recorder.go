package compute

import (
	"errors"
	"fmt"
	"time"

	"github.com/23skdu/longbow-quant/internal/fault"
	"github.com/23skdu/longbow-quant/internal/logger"
	"github.com/23skdu/longbow-quant/internal/metrics"
	"github.com/23skdu/longbow-quant/internal/opcode"
)

// State of the recording protocol.
type State int

const (
	Idle State = iota
	CreateInput
	CreateVariates
	Calc
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CreateInput:
		return "createInput"
	case CreateVariates:
		return "createVariates"
	default:
		return "calc"
	}
}

// Slot is one calculation id on a context.
type Slot struct {
	ID       int
	N        int
	Version  int
	Disposed bool
	// Compiled is set once the backend has built the program. A compiled
	// slot only accepts input rebinding until its version changes.
	Compiled bool
	Program  Program
	// Settings in effect when the program was built. Replays of the same
	// version run with its precision, smoothing eps and regression order.
	BuildSettings Settings
}

// Backend executes recorded programs on behalf of a Recorder. Errors should
// be *fault.Error values of kind ErrResource; anything else is wrapped.
type Backend interface {
	SupportsDoublePrecision() bool
	Build(s *Slot, settings Settings) error
	Upload(s *Slot, inputs []float64, settings Settings) error
	Run(s *Slot, settings Settings) error
	Download(s *Slot, out [][]float64, settings Settings) error
	Release(s *Slot)
}

// Recorder implements the protocol half of Context: slot table, state
// machine, id arena and program recording. Backends embed it and supply the
// execution hooks.
type Recorder struct {
	device  string
	backend Backend
	log     *logger.Logger

	slots    []*Slot
	state    State
	cur      *Slot
	settings Settings

	// round scratch
	inputs  []float64
	nInputs int
	free    []int
	live    []bool

	debug DebugInfo
}

func NewRecorder(device string, b Backend) *Recorder {
	return &Recorder{
		device:  device,
		backend: b,
		log:     logger.Log.With(device),
	}
}

func (r *Recorder) State() State { return r.state }

// Slot returns the slot with the given 1-based id, or nil.
func (r *Recorder) Slot(id int) *Slot {
	if id < 1 || id > len(r.slots) {
		return nil
	}
	return r.slots[id-1]
}

// Slots lists every slot ever created, disposed ones included.
func (r *Recorder) Slots() []*Slot { return r.slots }

func (r *Recorder) DebugInfo() DebugInfo { return r.debug }

func (r *Recorder) fail(op string, err error) error {
	metrics.RecordError(op, err)
	return err
}

func (r *Recorder) configf(op, format string, args ...interface{}) error {
	return r.fail(op, fault.Configurationf(op, format, args...))
}

func (r *Recorder) InitiateCalculation(n, id, version int, settings Settings) (int, bool, error) {
	const op = "InitiateCalculation"
	if r.state != Idle {
		return 0, false, r.configf(op, "not in state idle (%s)", r.state)
	}
	if n <= 0 {
		return 0, false, r.configf(op, "n must be positive, got %d", n)
	}

	newCalc := false
	if id == 0 {
		s := &Slot{ID: len(r.slots) + 1, N: n, Version: version}
		r.slots = append(r.slots, s)
		r.cur = s
		newCalc = true
		metrics.RecordSlotEvent(metrics.SlotCreated)
		r.log.Debug("calculation created", "id", s.ID, "n", n, "version", version)
	} else {
		s := r.Slot(id)
		if s == nil {
			return 0, false, r.configf(op, "id (%d) invalid, got 1...%d", id, len(r.slots))
		}
		if s.Disposed {
			return 0, false, r.fail(op, fault.Disposed(op, id))
		}
		if s.N != n {
			return 0, false, r.fail(op, fault.Configuration(op,
				fmt.Errorf("%w: size (%d) for id %d does not match current size (%d)", fault.ErrSizeMismatch, s.N, id, n)))
		}
		if s.Version != version {
			if s.Compiled {
				r.backend.Release(s)
				metrics.RecordSlotEvent(metrics.SlotRebuilt)
				r.log.Debug("calculation invalidated", "id", id, "old_version", s.Version, "new_version", version)
			}
			s.Version = version
			s.Compiled = false
		}
		// a slot whose first round never built is recorded again
		newCalc = !s.Compiled
		r.cur = s
	}

	if newCalc {
		r.cur.Program = Program{N: n}
	}
	r.settings = settings
	r.inputs = r.inputs[:0]
	r.nInputs = 0
	r.free = r.free[:0]
	r.live = r.live[:0]
	r.state = CreateInput
	return r.cur.ID, newCalc, nil
}

func (r *Recorder) stageInput(op string, scalar bool) (int, error) {
	if r.state != CreateInput {
		return 0, r.configf(op, "not in state createInput (%s)", r.state)
	}
	p := &r.cur.Program
	if !r.cur.Compiled {
		r.nInputs++
		return p.appendInput(scalar), nil
	}
	idx := r.nInputs
	if idx >= len(p.Inputs) {
		return 0, r.configf(op, "id (%d) has a kernel with %d inputs, can not add input %d", r.cur.ID, len(p.Inputs), idx)
	}
	if p.Inputs[idx].Scalar != scalar {
		kind := func(s bool) string {
			if s {
				return "scalar"
			}
			return "array"
		}
		return 0, r.configf(op, "input %d of id (%d) was recorded as %s, got %s", idx, r.cur.ID, kind(p.Inputs[idx].Scalar), kind(scalar))
	}
	r.nInputs++
	return idx, nil
}

func (r *Recorder) CreateInputVariable(v float64) (int, error) {
	id, err := r.stageInput("CreateInputVariable", true)
	if err != nil {
		return 0, err
	}
	r.inputs = append(r.inputs, v)
	return id, nil
}

func (r *Recorder) CreateInputVariableArray(v []float64) (int, error) {
	const op = "CreateInputVariableArray"
	if r.state == CreateInput && len(v) != r.cur.N {
		return 0, r.fail(op, fault.SizeMismatch(op, len(v), r.cur.N))
	}
	id, err := r.stageInput(op, false)
	if err != nil {
		return 0, err
	}
	r.inputs = append(r.inputs, v...)
	return id, nil
}

// recording checks that the current slot is open for recording.
func (r *Recorder) recording(op string) error {
	if r.state == Idle {
		return r.configf(op, "state is idle")
	}
	if r.cur.Compiled {
		return r.configf(op, "id (%d) in version %d has a kernel already", r.cur.ID, r.cur.Version)
	}
	return nil
}

func (r *Recorder) CreateInputVariates(dim, steps int) ([][]int, error) {
	const op = "CreateInputVariates"
	if r.state != CreateInput && r.state != CreateVariates {
		return nil, r.configf(op, "not in state createInput or createVariates (%s)", r.state)
	}
	if err := r.recording(op); err != nil {
		return nil, err
	}
	if dim < 0 || steps < 0 {
		return nil, r.configf(op, "dim (%d) and steps (%d) must not be negative", dim, steps)
	}
	p := &r.cur.Program
	base := p.FirstLocal()
	ids := make([][]int, dim)
	for i := range ids {
		ids[i] = make([]int, steps)
		for j := range ids[i] {
			ids[i][j] = base + j*dim + i
		}
	}
	p.NVariates += dim * steps
	r.state = CreateVariates
	return ids, nil
}

// validID reports whether id names a staged input, a variate or a live local.
func (r *Recorder) validID(id int) bool {
	p := &r.cur.Program
	if id < 0 {
		return false
	}
	if id < p.FirstLocal() {
		return true
	}
	k := id - p.FirstLocal()
	return k < len(r.live) && r.live[k]
}

func (r *Recorder) ApplyOperation(code opcode.Code, args ...int) (int, error) {
	const op = "ApplyOperation"
	if err := r.recording(op); err != nil {
		return 0, err
	}
	if err := opcode.Validate(code, len(args)); err != nil {
		return 0, r.fail(op, err)
	}
	for _, a := range args {
		if !r.validID(a) {
			return 0, r.configf(op, "%s: operand id %d is not a live variable", code, a)
		}
	}

	p := &r.cur.Program
	var id int
	if n := len(r.free); n > 0 {
		id = r.free[n-1]
		r.free = r.free[:n-1]
		r.live[id-p.FirstLocal()] = true
	} else {
		id = p.FirstLocal() + p.NLocals
		p.NLocals++
		r.live = append(r.live, true)
	}
	p.Statements = append(p.Statements, Statement{Op: code, Result: id, Args: append([]int(nil), args...)})
	r.state = Calc
	return id, nil
}

// FreeVariable returns a computed id to the round's freelist. Input and
// variate ids are never reclaimed.
func (r *Recorder) FreeVariable(id int) error {
	const op = "FreeVariable"
	if err := r.recording(op); err != nil {
		return err
	}
	p := &r.cur.Program
	if id >= 0 && id < p.FirstLocal() {
		return nil
	}
	if !r.validID(id) {
		return r.configf(op, "id %d is not a live variable", id)
	}
	r.live[id-p.FirstLocal()] = false
	r.free = append(r.free, id)
	return nil
}

func (r *Recorder) DeclareOutputVariable(id int) error {
	const op = "DeclareOutputVariable"
	if err := r.recording(op); err != nil {
		return err
	}
	if !r.validID(id) {
		return r.configf(op, "id %d is not a live variable", id)
	}
	r.cur.Program.Outputs = append(r.cur.Program.Outputs, id)
	r.state = Calc
	return nil
}

// timed records d under phase and, in debug mode, adds it to acc.
func (r *Recorder) timed(phase string, start time.Time, acc *int64) {
	d := time.Since(start)
	metrics.RecordKernelDuration(phase, d)
	if r.settings.Debug {
		*acc += d.Nanoseconds()
	}
}

func resourceErr(op string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.Resource(op, err)
}

// FinalizeCalculation builds the program if needed, uploads inputs, runs
// and downloads the declared outputs in order. The context is idle
// afterwards whatever the outcome.
func (r *Recorder) FinalizeCalculation(out [][]float64) (err error) {
	const op = "FinalizeCalculation"
	if r.state == Idle {
		return r.configf(op, "state is idle")
	}
	defer func() {
		r.state = Idle
		r.inputs = r.inputs[:0]
		r.free = r.free[:0]
		if err != nil {
			metrics.RecordError(op, err)
		}
	}()

	s := r.cur
	p := &s.Program
	if len(out) != len(p.Outputs) {
		return fault.Configurationf(op, "output size (%d) inconsistent to kernel output size (%d)", len(out), len(p.Outputs))
	}
	for k, o := range out {
		if len(o) < s.N {
			return fault.Configuration(op, fmt.Errorf("%w: output %d has length %d, need %d", fault.ErrSizeMismatch, k, len(o), s.N))
		}
	}
	if r.nInputs != len(p.Inputs) {
		return fault.Configurationf(op, "got %d inputs, id (%d) expects %d", r.nInputs, s.ID, len(p.Inputs))
	}

	begin := time.Now()
	if !s.Compiled {
		if r.settings.UseDoublePrecision && !r.backend.SupportsDoublePrecision() {
			return fault.Configurationf(op, "double precision is configured for this calculation, but not supported by the device")
		}
		t := time.Now()
		if err := r.backend.Build(s, r.settings); err != nil {
			return resourceErr(op, err)
		}
		s.Compiled = true
		s.BuildSettings = r.settings
		r.timed(metrics.PhaseBuild, t, &r.debug.NanoSecondsProgramBuild)
	}
	settings := r.roundSettings(s)

	t := time.Now()
	if err := r.backend.Upload(s, r.inputs, settings); err != nil {
		return resourceErr(op, err)
	}
	r.timed(metrics.PhaseTransfer, t, &r.debug.NanoSecondsDataCopy)

	t = time.Now()
	if err := r.backend.Run(s, settings); err != nil {
		return resourceErr(op, err)
	}
	r.timed(metrics.PhaseCalc, t, &r.debug.NanoSecondsCalculation)

	t = time.Now()
	if err := r.backend.Download(s, out, settings); err != nil {
		return resourceErr(op, err)
	}
	r.timed(metrics.PhaseTransfer, t, &r.debug.NanoSecondsDataCopy)

	if r.settings.Debug {
		r.debug.NumberOfOperations += p.NumOperations()
	}
	metrics.RecordOperations(p.NumOperations())
	metrics.RecordRound(r.device, s.N, time.Since(begin))
	return nil
}

// roundSettings are the settings a compiled slot runs with: precision,
// smoothing and regression order stay as built until the version changes,
// seed and debug follow the round.
func (r *Recorder) roundSettings(s *Slot) Settings {
	settings := r.settings
	b := s.BuildSettings
	if settings.UseDoublePrecision != b.UseDoublePrecision ||
		settings.SmoothingEps != b.SmoothingEps ||
		settings.RegressionOrder != b.RegressionOrder {
		r.log.Debug("round settings differ from build, keeping build settings", "id", s.ID, "version", s.Version,
			"double", b.UseDoublePrecision, "smoothing_eps", b.SmoothingEps, "regression_order", b.RegressionOrder)
	}
	settings.UseDoublePrecision = b.UseDoublePrecision
	settings.SmoothingEps = b.SmoothingEps
	settings.RegressionOrder = b.RegressionOrder
	return settings
}

// AbortCalculation discards the open round and returns to idle. A slot
// aborted during its recording round records again on the next one. It is a
// no-op when idle.
func (r *Recorder) AbortCalculation() {
	if r.state == Idle {
		return
	}
	if !r.cur.Compiled {
		r.cur.Program = Program{N: r.cur.N}
	}
	r.log.Debug("calculation aborted", "id", r.cur.ID, "state", r.state)
	r.state = Idle
	r.inputs = r.inputs[:0]
	r.nInputs = 0
	r.free = r.free[:0]
	r.live = r.live[:0]
}

func (r *Recorder) DisposeCalculation(id int) error {
	const op = "DisposeCalculation"
	s := r.Slot(id)
	if s == nil {
		return r.configf(op, "id (%d) invalid, got 1...%d", id, len(r.slots))
	}
	if s.Disposed {
		return r.fail(op, fault.Disposed(op, id))
	}
	if r.state != Idle && r.cur == s {
		return r.configf(op, "id (%d) has an open round", id)
	}
	if s.Compiled {
		r.backend.Release(s)
	}
	s.Disposed = true
	s.Compiled = false
	s.Program = Program{}
	metrics.RecordSlotEvent(metrics.SlotDisposed)
	r.log.Debug("calculation disposed", "id", id)
	return nil
}

// ReleaseAll releases every compiled slot; used by backends on Close.
func (r *Recorder) ReleaseAll() {
	for _, s := range r.slots {
		if s.Compiled {
			r.backend.Release(s)
			s.Compiled = false
		}
	}
	r.state = Idle
}
