// Package rng owns the normal variate stream shared by the CPU and
// accelerator backends. Variates come from one MT19937 sequence mapped
// through InvCumN, so the value at a given position depends only on the seed.
package rng

import (
	"gonum.org/v1/gonum/mathext/prng"
)

// DefaultSeed is the seed used when settings do not override it.
const DefaultSeed = 42

// ChunkSize is the MT19937 state size; the pool always grows by whole chunks.
const ChunkSize = 624

// Pool is a grow-only buffer of standard normal variates. Growing extends the
// existing stream, so earlier positions never change for a fixed seed. A Pool
// is not safe for concurrent use.
type Pool struct {
	seed   uint64
	seeded bool
	mt     *prng.MT19937
	data   []float64
}

func NewPool() *Pool {
	return &Pool{}
}

// Ensure makes at least count variates available for seed. A seed different
// from the current one restarts the stream. It reports whether new variates
// were generated.
func (p *Pool) Ensure(seed uint64, count int) bool {
	if !p.seeded || seed != p.seed {
		p.mt = prng.NewMT19937()
		p.mt.Seed(seed)
		p.seed = seed
		p.seeded = true
		p.data = p.data[:0]
	}
	if count <= len(p.data) {
		return false
	}
	aligned := ChunkSize * ((count + ChunkSize - 1) / ChunkSize)
	if cap(p.data) < aligned {
		grown := make([]float64, len(p.data), aligned)
		copy(grown, p.data)
		p.data = grown
	}
	for len(p.data) < aligned {
		p.data = append(p.data, InvCumN(p.mt.Uint32()))
	}
	return true
}

// Len is the number of generated variates.
func (p *Pool) Len() int { return len(p.data) }

// Seed returns the seed of the current stream.
func (p *Pool) Seed() uint64 { return p.seed }

// Data exposes the generated stream. Callers must not modify it.
func (p *Pool) Data() []float64 { return p.data }

// At returns variate v on lane i for a calculation of n paths.
func (p *Pool) At(v, n, i int) float64 { return p.data[v*n+i] }

// Bytes is the pool footprint at the given element size.
func (p *Pool) Bytes(elemSize int) int64 { return int64(len(p.data)) * int64(elemSize) }

// Reset drops all variates and the generator state.
func (p *Pool) Reset() {
	p.data = nil
	p.mt = nil
	p.seeded = false
}
