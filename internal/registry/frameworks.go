package registry

import (
	"fmt"
	"sync"

	"github.com/23skdu/longbow-quant/internal/compute"
	"github.com/23skdu/longbow-quant/internal/device"
	"github.com/23skdu/longbow-quant/internal/fault"
)

const (
	CPUFramework   = "BasicCpu"
	AccelFramework = device.Framework
)

func init() {
	Register(CPUFramework, CPU)
	Register(AccelFramework, Accel(device.DefaultConfig()))
}

type cpuFramework struct {
	mu  sync.Mutex
	ctx *compute.CPUContext
}

// CPU is the reference framework with its single device.
func CPU() (Framework, error) {
	return &cpuFramework{}, nil
}

func (f *cpuFramework) Devices() []string { return []string{compute.CPUDeviceName} }

func (f *cpuFramework) Context(name string) (compute.Context, error) {
	if name != compute.CPUDeviceName {
		return nil, fault.Configuration("registry.Context", fmt.Errorf("%w: %q", fault.ErrDeviceNotFound, name))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctx == nil {
		c := compute.NewCPUContext()
		if err := c.Init(); err != nil {
			return nil, err
		}
		f.ctx = c
	}
	return f.ctx, nil
}

func (f *cpuFramework) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctx != nil {
		f.ctx.Close()
		f.ctx = nil
	}
	return nil
}

type accelFramework struct {
	mu       sync.Mutex
	configs  map[string]device.Config
	names    []string
	contexts map[string]*device.Context
}

// Accel returns a creator for accelerator devices, one per configuration.
// Configurations with equal lane counts name the same device and are
// rejected.
func Accel(cfgs ...device.Config) Creator {
	return func() (Framework, error) {
		f := &accelFramework{
			configs:  make(map[string]device.Config),
			contexts: make(map[string]*device.Context),
		}
		for _, cfg := range cfgs {
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			name := device.Framework + "/" + device.Platform + "/" + cfg.DeviceName()
			if _, ok := f.configs[name]; ok {
				return nil, fmt.Errorf("device %q configured twice", name)
			}
			f.configs[name] = cfg
			f.names = append(f.names, name)
		}
		return f, nil
	}
}

func (f *accelFramework) Devices() []string { return append([]string(nil), f.names...) }

func (f *accelFramework) Context(name string) (compute.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contexts[name]; ok {
		return c, nil
	}
	cfg, ok := f.configs[name]
	if !ok {
		return nil, fault.Configuration("registry.Context", fmt.Errorf("%w: %q", fault.ErrDeviceNotFound, name))
	}
	c := device.New(cfg)
	if err := c.Init(); err != nil {
		return nil, err
	}
	f.contexts[name] = c
	return c, nil
}

func (f *accelFramework) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, c := range f.contexts {
		c.Close()
		delete(f.contexts, name)
	}
	return nil
}
