package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/23skdu/longbow-quant/internal/fault"
	"github.com/23skdu/longbow-quant/internal/metrics"
)

var allocatedBytes int64

func traceAlloc(delta int64) {
	metrics.RecordDeviceMemory(atomic.AddInt64(&allocatedBytes, delta))
}

// AllocatedBytes is the device memory held by every context in the process.
func AllocatedBytes() int64 {
	return atomic.LoadInt64(&allocatedBytes)
}

// Buffer is a block of device memory. Values are held as float64 on the host
// side; elemSize is the width the device would store (4 or 8).
type Buffer struct {
	data     []float64
	elemSize int
}

func (b *Buffer) Len() int { return len(b.data) }

func (b *Buffer) Bytes() int64 { return int64(cap(b.data)) * int64(b.elemSize) }

// buffers owns the allocations of one context. Free buffers are pooled by
// size; nothing is reference counted.
type buffers struct {
	mu    sync.Mutex
	limit int64
	used  int64
	pool  map[string][]*Buffer
}

func newBuffers(limit int64) *buffers {
	return &buffers{
		limit: limit,
		pool:  make(map[string][]*Buffer),
	}
}

func sizeKey(n, elemSize int) string {
	return fmt.Sprintf("%d/%d", n, elemSize)
}

// alloc returns a zeroed buffer of n elements, reusing a pooled one of the
// same size when available.
func (m *buffers) alloc(n, elemSize int) (*Buffer, error) {
	key := sizeKey(n, elemSize)
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool := m.pool[key]; len(pool) > 0 {
		b := pool[len(pool)-1]
		m.pool[key] = pool[:len(pool)-1]
		clear(b.data)
		return b, nil
	}
	size := int64(n) * int64(elemSize)
	if m.limit > 0 && m.used+size > m.limit {
		return nil, fault.Resourcef("device.alloc", "can not allocate %d bytes, %d of %d in use", size, m.used, m.limit)
	}
	m.used += size
	traceAlloc(size)
	return &Buffer{data: make([]float64, n), elemSize: elemSize}, nil
}

// put returns b to the pool.
func (m *buffers) put(b *Buffer) {
	if b == nil || b.data == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sizeKey(len(b.data), b.elemSize)
	m.pool[key] = append(m.pool[key], b)
}

// grow extends b to n elements keeping its contents. The old block is
// released and a new one allocated, as a device would have to.
func (m *buffers) grow(b *Buffer, n, elemSize int) (*Buffer, error) {
	if b != nil && len(b.data) >= n && b.elemSize == elemSize {
		return b, nil
	}
	nb, err := m.alloc(n, elemSize)
	if err != nil {
		return nil, err
	}
	if b != nil {
		copy(nb.data, b.data)
		if err := m.free(b); err != nil {
			return nil, err
		}
	}
	return nb, nil
}

// free releases b. Freeing a buffer twice is an error.
func (m *buffers) free(b *Buffer) error {
	if b == nil {
		return nil
	}
	if b.data == nil {
		return fault.Resourcef("device.free", "buffer released twice")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	size := b.Bytes()
	m.used -= size
	traceAlloc(-size)
	b.data = nil
	return nil
}

// drain frees every pooled buffer and reports the first failure.
func (m *buffers) drain() error {
	m.mu.Lock()
	pooled := m.pool
	m.pool = make(map[string][]*Buffer)
	m.mu.Unlock()

	var first error
	for _, bs := range pooled {
		for _, b := range bs {
			if err := m.free(b); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func (m *buffers) inUse() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}
