package stats

// Global holds the process-wide TX counters. It is created once and a
// handle is passed to the engine rather than imported as a global.
type Global struct {
	Sent   *Sparse // packets handed to a driver successfully
	Disc   *Sparse // descriptors drained but never transmitted
	Abrt   *Sparse // lazy-forward submissions aborted
	OsFree *Sparse // buffers released to the allocator, bypassing a pool
}

// NewGlobal creates global counters with one cell per worker CPU.
func NewGlobal(cpus int) *Global {
	return &Global{
		Sent:   NewSparse(cpus),
		Disc:   NewSparse(cpus),
		Abrt:   NewSparse(cpus),
		OsFree: NewSparse(cpus),
	}
}

// Sock holds the per-socket counters surfaced to user space.
// Recv, Lost and Drop belong to the receive path and are only ever
// read here; the TX core bumps Sent and Disc.
type Sock struct {
	Recv *Sparse
	Sent *Sparse
	Lost *Sparse
	Drop *Sparse
	Disc *Sparse
}

// NewSock creates per-socket counters with one cell per worker CPU.
func NewSock(cpus int) *Sock {
	return &Sock{
		Recv: NewSparse(cpus),
		Sent: NewSparse(cpus),
		Lost: NewSparse(cpus),
		Drop: NewSparse(cpus),
		Disc: NewSparse(cpus),
	}
}
