// Package registry maps device names of the form
// "<framework>/<platform>/<device>" to compute contexts. An Environment owns
// its frameworks and tears them down on Close, logging teardown failures; it
// is safe for concurrent use.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-quant/internal/compute"
	"github.com/23skdu/longbow-quant/internal/fault"
	"github.com/23skdu/longbow-quant/internal/logger"
)

// Framework exposes the devices of one backend family.
type Framework interface {
	// Devices lists full device names.
	Devices() []string
	// Context returns the initialized context of a device, creating it on
	// first use.
	Context(device string) (compute.Context, error)
	Close() error
}

// Creator builds a framework.
type Creator func() (Framework, error)

var (
	defaultsMu sync.Mutex
	defaults   = map[string]Creator{}
)

// Register adds a framework every NewEnvironment loads. Registering a name
// twice panics.
func Register(name string, c Creator) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	if _, ok := defaults[name]; ok {
		panic(fmt.Sprintf("registry: framework %q registered twice", name))
	}
	defaults[name] = c
}

// Registered lists the names passed to Register.
func Registered() []string {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	names := make([]string, 0, len(defaults))
	for n := range defaults {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type Environment struct {
	mu         sync.Mutex
	frameworks map[string]Framework
	log        *logger.Logger
}

// New returns an empty environment.
func New() *Environment {
	return &Environment{
		frameworks: make(map[string]Framework),
		log:        logger.Log.With("registry"),
	}
}

// NewEnvironment returns an environment holding every registered framework.
func NewEnvironment() (*Environment, error) {
	e := New()
	for _, name := range Registered() {
		defaultsMu.Lock()
		c := defaults[name]
		defaultsMu.Unlock()
		if err := e.Add(name, c); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

// Add creates the framework and makes its devices available.
func (e *Environment) Add(name string, c Creator) error {
	const op = "registry.Add"
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.frameworks[name]; ok {
		return fault.Configurationf(op, "framework %q already added", name)
	}
	f, err := c()
	if err != nil {
		return fault.Resource(op, fmt.Errorf("framework %q: %w", name, err))
	}
	e.frameworks[name] = f
	e.log.Debug("framework added", "framework", name, "devices", f.Devices())
	return nil
}

// AvailableDevices lists every device name, sorted.
func (e *Environment) AvailableDevices() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []string
	for _, f := range e.frameworks {
		names = append(names, f.Devices()...)
	}
	sort.Strings(names)
	return names
}

// Context returns the context of a device.
func (e *Environment) Context(name string) (compute.Context, error) {
	const op = "registry.Context"
	framework, _, _ := strings.Cut(name, "/")
	e.mu.Lock()
	f, ok := e.frameworks[framework]
	e.mu.Unlock()
	if ok {
		for _, d := range f.Devices() {
			if d == name {
				return f.Context(name)
			}
		}
	}
	return nil, fault.Configuration(op, fmt.Errorf("%w: %q, available: %s",
		fault.ErrDeviceNotFound, name, strings.Join(e.AvailableDevices(), ", ")))
}

// Close tears down every framework concurrently. Teardown failures are
// logged, never returned.
func (e *Environment) Close() {
	e.mu.Lock()
	frameworks := e.frameworks
	e.frameworks = make(map[string]Framework)
	e.mu.Unlock()

	var g errgroup.Group
	for name, f := range frameworks {
		g.Go(func() error {
			if err := f.Close(); err != nil {
				e.log.Warn("framework teardown failed", "framework", name, "err", err)
				return nil
			}
			e.log.Debug("framework closed", "framework", name)
			return nil
		})
	}
	g.Wait()
}
