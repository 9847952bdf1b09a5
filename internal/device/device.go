// Package device is the accelerator backend. Recorded programs are lowered
// to kernel source and a lane program; lanes run in parallel chunks and the
// host steps in between kernels for operations that need every lane, such as
// conditional expectations.
package device

import (
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/23skdu/longbow-quant/internal/compute"
	"github.com/23skdu/longbow-quant/internal/fault"
	"github.com/23skdu/longbow-quant/internal/logger"
	"github.com/23skdu/longbow-quant/internal/metrics"
	"github.com/23skdu/longbow-quant/internal/rng"
	"github.com/23skdu/longbow-quant/internal/scenario"
)

const (
	Framework = "Accel"
	Platform  = "Go"
)

// DefaultChunkSize is the number of lanes one worker runs per work item.
const DefaultChunkSize = 1024

// Config describes one simulated device.
type Config struct {
	// Lanes is the number of worker goroutines.
	Lanes          int
	ChunkSize      int
	MaxKernelLines int
	// DoublePrecision reports whether the device accepts double precision
	// rounds.
	DoublePrecision bool
	// MaxBufferBytes caps device memory; 0 means unlimited.
	MaxBufferBytes int64
}

func DefaultConfig() Config {
	return Config{
		Lanes:           runtime.NumCPU(),
		ChunkSize:       DefaultChunkSize,
		MaxKernelLines:  DefaultMaxKernelLines,
		DoublePrecision: true,
	}
}

func (c Config) Validate() error {
	if c.Lanes <= 0 {
		return fmt.Errorf("invalid lanes: %d (must be positive)", c.Lanes)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size: %d (must be positive)", c.ChunkSize)
	}
	if c.MaxKernelLines < 0 {
		return fmt.Errorf("invalid max kernel lines: %d (must not be negative)", c.MaxKernelLines)
	}
	if c.MaxBufferBytes < 0 {
		return fmt.Errorf("invalid max buffer bytes: %d (must not be negative)", c.MaxBufferBytes)
	}
	return nil
}

// DeviceName is the platform/device part of the registry name.
func (c Config) DeviceName() string {
	return fmt.Sprintf("Lanes%d", c.Lanes)
}

// program is a built slot.
type program struct {
	kernel *Kernel
	eval   *scenario.Evaluator
}

// Context is the accelerator implementation of compute.Context. Like every
// context it is driven by one goroutine.
type Context struct {
	*compute.Recorder
	cfg  Config
	name string
	log  *logger.Logger

	initialized bool
	mem         *buffers
	pool        *rng.Pool
	programs    map[int]*program

	// shared variate buffer and what has been copied into it
	variates       *Buffer
	variatesSeed   uint64
	variatesCopied int
	variatesSingle bool

	// output buffers by output count
	outputs map[int]*Buffer

	// current round
	input  *Buffer
	values *Buffer
	output *Buffer
}

func New(cfg Config) *Context {
	name := Framework + "/" + Platform + "/" + cfg.DeviceName()
	c := &Context{
		cfg:      cfg,
		name:     name,
		log:      logger.Log.With(name),
		pool:     rng.NewPool(),
		programs: make(map[int]*program),
		outputs:  make(map[int]*Buffer),
	}
	c.Recorder = compute.NewRecorder(name, c)
	return c
}

func (c *Context) Name() string { return c.name }

// Init validates the configuration and sets up device memory. Calling it
// again is a no-op.
func (c *Context) Init() error {
	if c.initialized {
		return nil
	}
	if err := c.cfg.Validate(); err != nil {
		return fault.Configuration("device.Init", err)
	}
	c.mem = newBuffers(c.cfg.MaxBufferBytes)
	c.initialized = true
	c.log.Info("device initialized", "lanes", c.cfg.Lanes, "chunk_size", c.cfg.ChunkSize,
		"double_precision", c.cfg.DoublePrecision)
	return nil
}

// Close releases every program and buffer. Failures are logged, never
// returned.
func (c *Context) Close() {
	if !c.initialized {
		return
	}
	c.ReleaseAll()
	c.releaseRound()
	c.release("variates", c.variates)
	c.variates = nil
	c.variatesCopied = 0
	for n, b := range c.outputs {
		c.release("output", b)
		delete(c.outputs, n)
	}
	if err := c.mem.drain(); err != nil {
		c.log.Warn("releasing pooled buffers failed", "err", err)
	}
	c.pool.Reset()
	c.initialized = false
	c.log.Info("device closed")
}

func (c *Context) release(what string, b *Buffer) {
	if err := c.mem.free(b); err != nil {
		c.log.Warn("releasing buffer failed", "buffer", what, "err", err)
	}
}

func (c *Context) DeviceInfo() []compute.InfoField {
	var used int64
	if c.mem != nil {
		used = c.mem.inUse()
	}
	return []compute.InfoField{
		{Key: "device_name", Value: c.name},
		{Key: "platform", Value: Platform},
		{Key: "lanes", Value: strconv.Itoa(c.cfg.Lanes)},
		{Key: "chunk_size", Value: strconv.Itoa(c.cfg.ChunkSize)},
		{Key: "max_kernel_lines", Value: strconv.Itoa(c.cfg.MaxKernelLines)},
		{Key: "double_precision", Value: strconv.FormatBool(c.cfg.DoublePrecision)},
		{Key: "device_memory_bytes", Value: strconv.FormatInt(used, 10)},
		{Key: "variate_pool_size", Value: strconv.Itoa(c.pool.Len())},
	}
}

func (c *Context) SupportsDoublePrecision() bool { return c.cfg.DoublePrecision }

func elemSize(settings compute.Settings) int {
	if settings.UseDoublePrecision {
		return 8
	}
	return 4
}

// Build lowers and verifies the slot's program.
func (c *Context) Build(s *compute.Slot, settings compute.Settings) error {
	if !c.initialized {
		return fault.Resourcef("device.Build", "device %s is not initialized", c.name)
	}
	k, err := GenerateKernel(&s.Program, Options{
		SinglePrecision: !settings.UseDoublePrecision,
		MaxKernelLines:  c.cfg.MaxKernelLines,
		SmoothingEps:    settings.SmoothingEps,
	})
	if err != nil {
		return err
	}
	if err := k.verify(); err != nil {
		return err
	}
	c.programs[s.ID] = &program{
		kernel: k,
		eval:   scenario.NewEvaluator(settings.RegressionOrder, settings.SmoothingEps),
	}
	metrics.RecordKernelParts(len(k.Parts))
	c.log.Debug("kernel built", "id", s.ID, "version", s.Version, "parts", len(k.Parts),
		"kernels", len(k.KernelNames()), "buffered", k.NumBuffered())
	if settings.Debug {
		c.log.Debug("kernel source", "id", s.ID, "source", k.Source)
	}
	return nil
}

// Upload copies inputs into a fresh input buffer and extends the shared
// variate buffer to cover the slot.
func (c *Context) Upload(s *compute.Slot, inputs []float64, settings compute.Settings) error {
	pr, ok := c.programs[s.ID]
	if !ok {
		return fault.Resourcef("device.Upload", "id (%d) has no program", s.ID)
	}
	es := elemSize(settings)
	single := !settings.UseDoublePrecision
	c.releaseRound()

	var err error
	if n := len(inputs); n > 0 {
		if c.input, err = c.mem.alloc(n, es); err != nil {
			return err
		}
		copyRounded(c.input.data, inputs, single)
	}
	if n := pr.kernel.NumBuffered() * s.N; n > 0 {
		if c.values, err = c.mem.alloc(n, es); err != nil {
			return err
		}
	}
	if err := c.uploadVariates(s.Program.NVariates*s.N, settings); err != nil {
		return err
	}

	nOut := len(s.Program.Outputs)
	if nOut > 0 {
		b, err := c.mem.grow(c.outputs[nOut], nOut*s.N, es)
		if err != nil {
			return err
		}
		c.outputs[nOut] = b
		c.output = b
	}
	return nil
}

func (c *Context) uploadVariates(count int, settings compute.Settings) error {
	if count == 0 {
		return nil
	}
	single := !settings.UseDoublePrecision
	if c.pool.Ensure(settings.RNGSeed, count) {
		metrics.RecordVariatePool(c.pool.Len())
		c.log.Debug("variate pool grown", "size", c.pool.Len(), "seed", settings.RNGSeed)
	}
	if c.variates != nil && (c.variatesSeed != c.pool.Seed() || c.variatesSingle != single) {
		c.variatesCopied = 0
	}
	data := c.pool.Data()
	b, err := c.mem.grow(c.variates, len(data), elemSize(settings))
	if err != nil {
		return err
	}
	c.variates = b
	copyRounded(b.data[c.variatesCopied:len(data)], data[c.variatesCopied:], single)
	c.variatesCopied = len(data)
	c.variatesSeed = c.pool.Seed()
	c.variatesSingle = single
	return nil
}

func copyRounded(dst, src []float64, single bool) {
	if !single {
		copy(dst, src)
		return
	}
	for i, v := range src {
		dst[i] = round32(v)
	}
}

func (c *Context) Run(s *compute.Slot, settings compute.Settings) error {
	pr, ok := c.programs[s.ID]
	if !ok {
		return fault.Resourcef("device.Run", "id (%d) has no program", s.ID)
	}
	b := &bindings{n: s.N}
	if c.input != nil {
		b.input = c.input.data
	}
	if c.variates != nil {
		b.rn = c.variates.data
	}
	if c.values != nil {
		b.values = c.values.data
	}
	if c.output != nil {
		b.output = c.output.data
	}
	k := pr.kernel
	last := len(k.Parts) - 1
	for i := range k.Parts {
		part := &k.Parts[i]
		if part.Host {
			t := time.Now()
			if err := k.host(part, b, pr.eval); err != nil {
				return err
			}
			metrics.RecordKernelDuration(metrics.PhaseRegress, time.Since(t))
			continue
		}
		if err := k.exec(part, b, i == last, c.cfg.Lanes, c.cfg.ChunkSize); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) Download(s *compute.Slot, out [][]float64, settings compute.Settings) error {
	defer c.releaseRound()
	if len(out) == 0 {
		return nil
	}
	if c.output == nil {
		return fault.Resourcef("device.Download", "id (%d) has no output buffer", s.ID)
	}
	single := !settings.UseDoublePrecision
	for k := range out {
		copyRounded(out[k][:s.N], c.output.data[k*s.N:(k+1)*s.N], single)
	}
	return nil
}

// releaseRound returns the per-round buffers to the pool. Output buffers
// stay with their output count.
func (c *Context) releaseRound() {
	c.mem.put(c.input)
	c.mem.put(c.values)
	c.input, c.values, c.output = nil, nil, nil
}

func (c *Context) Release(s *compute.Slot) {
	delete(c.programs, s.ID)
}

var _ compute.Context = (*Context)(nil)
