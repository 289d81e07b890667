// Package pool implements the single-producer single-consumer ring
// that recycles packet buffers between a drain's free path and its
// allocation path.
//
// The producer is the engine returning transmitted buffers; the
// consumer is the same engine allocating the next packet. Both sides
// are non-blocking: a full ring makes the producer fall back to the
// allocator, an empty ring makes the consumer allocate fresh.
package pool

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"

	"github.com/pfq-io/go-pfq/internal/skbuff"
)

type pad [56]byte

// Pool is the SPSC recycle ring. Producer and consumer indices live on
// separate cache lines; the producer publishes a slot with a release
// store of pIdx so the consumer's acquire load observes the slot
// write, and the consumer releases cIdx so the producer observes the
// slot becoming free.
type Pool struct {
	skbs []*skbuff.Buffer

	pIdx atomix.Uint64
	_    pad
	cIdx atomix.Uint64
	_    pad

	// Single-writer accounting cells, summed by Stats.
	pushes atomix.Uint64
	pops   atomix.Uint64
	frees  atomix.Uint64
}

// Stats is a snapshot of the pool accounting.
type Stats struct {
	Push uint64 // buffers recycled into the ring
	Pop  uint64 // buffers taken back out
	Free uint64 // buffers the pool released on Flush
}

// New creates a pool holding up to size-1 buffers. size < 2 returns a
// disabled pool on which Push always fails and Pop always misses.
func New(size int) *Pool {
	if size < 2 {
		return &Pool{}
	}
	return &Pool{skbs: make([]*skbuff.Buffer, size)}
}

// Enabled reports whether the pool has backing storage.
func (p *Pool) Enabled() bool { return p.skbs != nil }

// Cap returns the number of slots, zero when disabled.
func (p *Pool) Cap() int { return len(p.skbs) }

func (p *Pool) next(i uint64) uint64 {
	n := i + 1
	if n == uint64(len(p.skbs)) {
		return 0
	}
	return n
}

// Push recycles a buffer into the ring. Returns ErrWouldBlock when the
// ring is full or disabled; the caller then frees through the slow
// path and accounts the allocator-path release.
func (p *Pool) Push(buf *skbuff.Buffer) error {
	if p.skbs == nil {
		return iox.ErrWouldBlock
	}
	i := p.pIdx.LoadRelaxed()
	c := p.cIdx.LoadAcquire()
	n := p.next(i)
	if n == c {
		return iox.ErrWouldBlock
	}
	p.skbs[i] = buf
	p.pIdx.StoreRelease(n)
	p.pushes.StoreRelaxed(p.pushes.LoadRelaxed() + 1)
	return nil
}

// Pop takes a recycled buffer out of the ring. Returns nil when the
// ring is empty, disabled, or the head buffer is still referenced by a
// concurrent holder (a clone in flight): the refcount gate skips it
// rather than handing out a buffer somebody else can still see.
func (p *Pool) Pop() *skbuff.Buffer {
	if p.skbs == nil {
		return nil
	}
	c := p.cIdx.LoadRelaxed()
	i := p.pIdx.LoadAcquire()
	if c == i {
		return nil
	}
	buf := p.skbs[c]
	if buf.Users() >= 2 {
		return nil
	}
	p.skbs[c] = nil
	p.cIdx.StoreRelease(p.next(c))
	p.pops.StoreRelaxed(p.pops.LoadRelaxed() + 1)
	return buf
}

// Flush drains the ring and frees every resident buffer. Only safe
// while neither side is active. Returns the number of buffers freed.
func (p *Pool) Flush() int {
	if p.skbs == nil {
		return 0
	}
	n := 0
	for {
		c := p.cIdx.LoadRelaxed()
		if c == p.pIdx.LoadAcquire() {
			break
		}
		buf := p.skbs[c]
		p.skbs[c] = nil
		p.cIdx.StoreRelease(p.next(c))
		if buf != nil {
			buf.Free()
			n++
		}
	}
	p.frees.StoreRelaxed(p.frees.LoadRelaxed() + uint64(n))
	return n
}

// Stats returns the accounting snapshot.
func (p *Pool) Stats() Stats {
	return Stats{
		Push: p.pushes.LoadRelaxed(),
		Pop:  p.pops.LoadRelaxed(),
		Free: p.frees.LoadRelaxed(),
	}
}
