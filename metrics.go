package pfq

import (
	"github.com/pfq-io/go-pfq/internal/interfaces"
	"github.com/pfq-io/go-pfq/internal/pool"
	"github.com/pfq-io/go-pfq/internal/stats"
)

// PoolCounters is the recycle-pool accounting snapshot.
type PoolCounters struct {
	Push uint64 // buffers recycled into a pool
	Pop  uint64 // buffers taken back out
	Free uint64 // buffers released when a pool was flushed
}

// Counters is a point-in-time snapshot of a socket's statistics.
// Recv, Lost and Drop belong to the receive path and stay zero here;
// they are part of the surfaced layout.
type Counters struct {
	Recv uint64
	Sent uint64
	Lost uint64
	Drop uint64
	Disc uint64 // drained descriptors that never reached a driver

	// Process-wide TX counters, shared across sockets.
	Abrt   uint64 // lazy-forward submissions aborted
	OsFree uint64 // buffers released to the allocator, bypassing a pool

	Pool PoolCounters
}

func snapshotCounters(so *stats.Sock, g *stats.Global, ps pool.Stats) Counters {
	return Counters{
		Recv:   so.Recv.Read(),
		Sent:   so.Sent.Read(),
		Lost:   so.Lost.Read(),
		Drop:   so.Drop.Read(),
		Disc:   so.Disc.Read(),
		Abrt:   g.Abrt.Read(),
		OsFree: g.OsFree.Read(),
		Pool: PoolCounters{
			Push: ps.Push,
			Pop:  ps.Pop,
			Free: ps.Free,
		},
	}
}

// Observer receives drain-level and commit-level events. Methods are
// called from worker threads; implementations must be thread-safe.
type Observer = interfaces.Observer

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveDrain(sent, discarded uint64, interrupted bool) {}
func (NoOpObserver) ObserveCommit(targets int, sent, aborted uint64)       {}

// Compile-time interface check
var _ Observer = (*NoOpObserver)(nil)
