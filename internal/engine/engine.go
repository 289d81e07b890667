// Package engine implements the TX drain: one pass walks a ring half,
// builds packet buffers, paces them against their timestamps and hands
// batches to the device, recycling buffers through a per-CPU pool.
package engine

import (
	"code.hybscloud.com/atomix"

	"github.com/pfq-io/go-pfq/internal/constants"
	"github.com/pfq-io/go-pfq/internal/interfaces"
	"github.com/pfq-io/go-pfq/internal/logging"
	"github.com/pfq-io/go-pfq/internal/netdev"
	"github.com/pfq-io/go-pfq/internal/pool"
	"github.com/pfq-io/go-pfq/internal/ring"
	"github.com/pfq-io/go-pfq/internal/skbuff"
	"github.com/pfq-io/go-pfq/internal/stats"
)

// TxQueueConf is the per-ring configuration block.
type TxQueueConf struct {
	// HwQueue is the hardware TX queue, netdev.AnyQueue for driver
	// choice.
	HwQueue int

	// IfIndex identifies the bound network interface.
	IfIndex int

	// Ring is the shared descriptor ring.
	Ring *ring.Ring

	// Worker is the ring-owning drain thread; nil selects the
	// synchronous flush path.
	Worker *Worker
}

// TxOpt is a socket's TX option block: the rings and the per-socket
// counters.
type TxOpt struct {
	Queues []TxQueueConf
	Stats  *stats.Sock
}

// Config sizes an engine.
type Config struct {
	MaxLen   int // per-packet ceiling; 0 picks the default
	PoolSize int // per-CPU recycle ring capacity; 0 disables
	CPUs     int // number of worker CPU slots
	Node     int // NUMA hint for allocations
}

// Engine drains TX rings. One engine serves any number of rings; each
// ring has at most one drainer at a time, guaranteed by the swap
// protocol.
type Engine struct {
	maxLen  int
	node    int
	global  *stats.Global
	local   []*pool.Pool
	poolsOn atomix.Bool
	log     *logging.Logger
	obs     interfaces.Observer
}

// New creates an engine. The global stats handle is shared with the
// device layer; the observer may be nil.
func New(cfg Config, global *stats.Global, log *logging.Logger, obs interfaces.Observer) *Engine {
	maxLen := cfg.MaxLen
	if maxLen <= 0 || maxLen > constants.MaxLen {
		maxLen = constants.MaxLen
	}
	cpus := cfg.CPUs
	if cpus < 1 {
		cpus = 1
	}
	local := make([]*pool.Pool, cpus)
	for i := range local {
		local[i] = pool.New(cfg.PoolSize)
	}
	e := &Engine{
		maxLen: maxLen,
		node:   cfg.Node,
		global: global,
		local:  local,
		log:    log,
		obs:    obs,
	}
	e.poolsOn.Store(true)
	return e
}

// EnablePools toggles buffer recycling at runtime. While off, drains
// allocate fresh and free through the allocator; buffers already
// resident stay put until FlushPools.
func (e *Engine) EnablePools(v bool) {
	e.poolsOn.Store(v)
}

// MaxLen returns the per-packet ceiling.
func (e *Engine) MaxLen() int { return e.maxLen }

// Global returns the engine's global stats handle.
func (e *Engine) Global() *stats.Global { return e.global }

// LocalPool returns the recycle pool owned by cpu, or nil for the
// standalone path: without a dedicated slot the SPSC invariant cannot
// be kept.
func (e *Engine) LocalPool(cpu int) *pool.Pool {
	if cpu == constants.NoKthread || !e.poolsOn.Load() {
		return nil
	}
	return e.local[cpu%len(e.local)]
}

// FlushPools frees every buffer resident in the recycle pools. Only
// safe once the workers are stopped.
func (e *Engine) FlushPools() int {
	n := 0
	for _, p := range e.local {
		freed := p.Flush()
		e.global.OsFree.AddAny(uint64(freed))
		n += freed
	}
	return n
}

// PoolStats sums the recycle-pool accounting across CPUs.
func (e *Engine) PoolStats() pool.Stats {
	var out pool.Stats
	for _, p := range e.local {
		s := p.Stats()
		out.Push += s.Push
		out.Pop += s.Pop
		out.Free += s.Free
	}
	return out
}

// allocSkb takes a recycled buffer when the local pool has one, else a
// fresh allocation.
func (e *Engine) allocSkb(local *pool.Pool, node int) *skbuff.Buffer {
	if local != nil {
		if b := local.Pop(); b != nil {
			return b
		}
	}
	return skbuff.Alloc(e.maxLen, node)
}

// freeSkb recycles a transmitted buffer into the local pool, falling
// back to the allocator when the pool is full or absent.
func (e *Engine) freeSkb(local *pool.Pool, b *skbuff.Buffer) {
	if local != nil && local.Push(b) == nil {
		return
	}
	if b.Free() {
		e.global.OsFree.IncAny()
	}
}

// transmissionRequired decides whether the batch must go to the device
// before the current descriptor is handled: either the batch is full,
// or it holds due packets and the current descriptor is paced into the
// future. The flush happens before the pacing wait so due packets are
// not held for the whole delay.
func transmissionRequired(skbs *skbuff.Batch, now int64, ts uint64) bool {
	return skbs.Full() || (skbs.Len() > 0 && ts > uint64(now))
}

// fullBatchXmit attempts a batch to completion. It returns total >= 0
// when every attempt completed, or ^total < 0 when giveUp fired midway
// (the complement carries the progress made).
//
// Per iteration it takes an extra reference on each buffer so pool
// recycling can race safely with a driver still holding the frame,
// submits, recycles the sent prefix and drops it from the batch. A
// driver refusal terminates the pass with the unsent tail left in the
// batch: the caller accounts it as discarded and the next drain
// retries naturally. The extra reference is what keeps a refused
// buffer alive after the device layer dropped the driver-side count.
func (e *Engine) fullBatchXmit(local *pool.Pool, skbs *skbuff.Batch, dev *netdev.Device, hwQueue int, giveUp interfaces.GiveUp) int {
	total := 0

	for skbs.Len() > 0 {
		if giveUp() {
			return ^total
		}

		skbs.Range(func(i int, buf *skbuff.Buffer) {
			buf.Get()
		})

		attempted := skbs.Len()
		sent := dev.BatchXmit(skbs, hwQueue)

		total += sent
		for i := 0; i < sent; i++ {
			e.freeSkb(local, skbs.At(i))
		}
		skbs.DropN(sent)

		if sent < attempted {
			break
		}
	}

	return total
}
