// Package pfq provides accelerated packet transmission through
// shared-memory descriptor rings drained by pinned worker threads.
package pfq

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pfq-io/go-pfq/internal/constants"
	"github.com/pfq-io/go-pfq/internal/engine"
	"github.com/pfq-io/go-pfq/internal/interfaces"
	"github.com/pfq-io/go-pfq/internal/logging"
	"github.com/pfq-io/go-pfq/internal/netdev"
	"github.com/pfq-io/go-pfq/internal/ring"
	"github.com/pfq-io/go-pfq/internal/stats"
)

// Driver is what a network device exposes to the TX core. See
// MockDevice and the driver/ package for implementations.
type Driver = interfaces.Driver

// TxStatus is the result of handing one frame to a driver.
type TxStatus = interfaces.TxStatus

const (
	// TxOK means the driver accepted the frame.
	TxOK = interfaces.TxOK
	// TxBusy means the driver refused it; the queue is congested.
	TxBusy = interfaces.TxBusy
)

// AnyQueue lets the driver pick the hardware TX queue.
const AnyQueue = netdev.AnyQueue

// Defaults for StackConfig and SocketConfig.
const (
	DefaultMaxLen   = constants.MaxLen
	DefaultRingSize = constants.DefaultRingSize
	DefaultPoolSize = constants.DefaultPoolSize
)

// StackConfig sizes the process-wide state.
type StackConfig struct {
	MaxLen   int // per-packet ceiling (default 2048)
	PoolSize int // per-CPU recycle ring capacity; 0 disables recycling
	CPUs     int // worker CPU slots (default: number of CPUs)
	Node     int // NUMA hint for buffer allocation

	Logger   *logging.Logger // nil picks the package default
	Observer Observer        // nil disables observation
}

// DefaultStackConfig returns the defaults.
func DefaultStackConfig() StackConfig {
	return StackConfig{
		MaxLen:   DefaultMaxLen,
		PoolSize: DefaultPoolSize,
	}
}

// Stack is the initialized-once process-wide state: the device
// registry, the global counters and the drain engine with its per-CPU
// recycle pools. Sockets are created from a stack and share all three.
type Stack struct {
	log    *logging.Logger
	reg    *netdev.Registry
	global *stats.Global
	eng    *engine.Engine
}

// NewStack initializes the process-wide state.
func NewStack(cfg StackConfig) *Stack {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	cpus := cfg.CPUs
	if cpus <= 0 {
		cpus = runtime.NumCPU()
	}
	global := stats.NewGlobal(cpus)
	eng := engine.New(engine.Config{
		MaxLen:   cfg.MaxLen,
		PoolSize: cfg.PoolSize,
		CPUs:     cpus,
		Node:     cfg.Node,
	}, global, log, cfg.Observer)
	return &Stack{
		log:    log,
		reg:    netdev.NewRegistry(),
		global: global,
		eng:    eng,
	}
}

// Register makes a driver reachable through its interface index.
func (s *Stack) Register(drv Driver) {
	s.reg.Register(netdev.Wrap(drv, s.global))
}

// Unregister removes the device with the given interface index.
func (s *Stack) Unregister(ifIndex int) {
	s.reg.Unregister(ifIndex)
}

// EnablePools toggles buffer recycling at runtime.
func (s *Stack) EnablePools(v bool) {
	s.eng.EnablePools(v)
}

// Close flushes the recycle pools. Sockets must be closed first.
func (s *Stack) Close() {
	s.eng.FlushPools()
}

// SocketConfig sizes one socket.
type SocketConfig struct {
	TxQueues int // number of TX rings (default 1)
	RingSize int // ring half size in bytes (default 64 KiB)
}

// Socket owns a set of TX rings and their configuration. Each ring is
// independently bound to a device, drained either by a dedicated
// worker or synchronously through Flush.
type Socket struct {
	stack *Stack
	opt   *engine.TxOpt
	rings []*ring.Ring

	mu      sync.Mutex
	workers []*engine.Worker
	closed  bool
}

// NewSocket creates a socket with its TX rings mapped.
func (s *Stack) NewSocket(cfg SocketConfig) (*Socket, error) {
	n := cfg.TxQueues
	if n <= 0 {
		n = 1
	}
	size := cfg.RingSize
	if size <= 0 {
		size = DefaultRingSize
	}

	rings := make([]*ring.Ring, n)
	for i := range rings {
		r, err := ring.New(size, s.log)
		if err != nil {
			for _, r := range rings[:i] {
				r.Close()
			}
			return nil, fmt.Errorf("socket: tx ring %d: %w", i, err)
		}
		rings[i] = r
	}

	opt := &engine.TxOpt{
		Queues: make([]engine.TxQueueConf, n),
		Stats:  stats.NewSock(runtime.NumCPU()),
	}
	for i := range opt.Queues {
		opt.Queues[i] = engine.TxQueueConf{
			HwQueue: netdev.AnyQueue,
			IfIndex: -1,
			Ring:    rings[i],
		}
	}

	return &Socket{
		stack:   s,
		opt:     opt,
		rings:   rings,
		workers: make([]*engine.Worker, n),
	}, nil
}

// TxQueues returns the number of TX rings.
func (so *Socket) TxQueues() int { return len(so.rings) }

// BindTx points ring idx at an interface and hardware queue. hwQueue
// may be AnyQueue.
func (so *Socket) BindTx(idx, ifIndex, hwQueue int) error {
	if idx < 0 || idx >= len(so.rings) {
		return &Error{Op: "bind", Ring: idx, Code: CodeInvalidConfig}
	}
	if so.stack.reg.ByIndex(ifIndex) == nil {
		return &Error{Op: "bind", Ring: idx, Code: CodeNoDevice, Inner: ErrNoDevice}
	}
	so.opt.Queues[idx].IfIndex = ifIndex
	so.opt.Queues[idx].HwQueue = hwQueue
	return nil
}

// Writer returns the producer handle of ring idx. One writer per ring:
// the swap protocol assumes a single producer.
func (so *Socket) Writer(idx int) *TxWriter {
	return &TxWriter{w: so.rings[idx].Writer()}
}

// StartTxWorker binds a drain worker to ring idx, pinned to cpu when
// cpu >= 0. The ring must be bound first.
func (so *Socket) StartTxWorker(ctx context.Context, idx, cpu int) error {
	if idx < 0 || idx >= len(so.rings) {
		return &Error{Op: "worker", Ring: idx, Code: CodeInvalidConfig}
	}
	q := &so.opt.Queues[idx]
	dev := so.stack.reg.ByIndex(q.IfIndex)
	if dev == nil {
		return &Error{Op: "worker", Ring: idx, Code: CodeNoDevice, Inner: ErrNoDevice}
	}

	so.mu.Lock()
	defer so.mu.Unlock()
	if so.workers[idx] != nil {
		return &Error{Op: "worker", Ring: idx, Code: CodeInvalidConfig}
	}
	w := so.stack.eng.StartWorker(ctx, idx, so.opt, dev, cpu)
	so.workers[idx] = w
	q.Worker = w
	return nil
}

// StopTxWorkers stops every worker and detaches them from the rings.
func (so *Socket) StopTxWorkers() {
	so.mu.Lock()
	defer so.mu.Unlock()
	for i, w := range so.workers {
		if w == nil {
			continue
		}
		w.Stop()
		so.workers[i] = nil
		so.opt.Queues[i].Worker = nil
	}
}

// Flush drains ring idx on the calling goroutine. A no-op when a
// worker owns the ring. Returns the number of packets sent.
func (so *Socket) Flush(idx int) (int, error) {
	if idx < 0 || idx >= len(so.rings) {
		return 0, &Error{Op: "flush", Ring: idx, Code: CodeInvalidConfig}
	}
	sent, err := so.stack.eng.QueueFlush(so.opt, idx, so.stack.reg, interfaces.Never)
	return sent, wrapError("flush", idx, err)
}

// FlushAll flushes every ring without a worker.
func (so *Socket) FlushAll() (int, error) {
	total := 0
	for i := range so.rings {
		sent, err := so.Flush(i)
		total += sent
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Counters returns the socket's statistics snapshot, including the
// process-wide TX counters and pool accounting.
func (so *Socket) Counters() Counters {
	return snapshotCounters(so.opt.Stats, so.stack.global, so.stack.eng.PoolStats())
}

// Close stops the workers and unmaps the rings.
func (so *Socket) Close() error {
	so.mu.Lock()
	if so.closed {
		so.mu.Unlock()
		return nil
	}
	so.closed = true
	so.mu.Unlock()

	so.StopTxWorkers()
	var first error
	for _, r := range so.rings {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// TxWriter is the producer side of one TX ring: descriptors are
// written contiguously into the writable half and published with
// Commit. The engine picks them up on its next swap.
type TxWriter struct {
	w *ring.Writer
}

// Write appends a descriptor carrying payload, to be transmitted no
// earlier than nsec (0 = immediately). Returns false when the half is
// full; commit and retry.
func (tw *TxWriter) Write(nsec uint64, payload []byte) bool {
	return tw.w.Write(nsec, payload)
}

// Pending returns the descriptors written since the last commit.
func (tw *TxWriter) Pending() int { return tw.w.Pending() }

// Ready reports whether the worker has taken up the last committed
// half, which means it is done with the other one: the producer may
// then fill and commit that other half. Committing before Ready would
// outrun the swap protocol. Only meaningful when a worker owns the
// ring.
func (tw *TxWriter) Ready() bool { return tw.w.Ready() }

// Commit publishes the filled half to the engine.
func (tw *TxWriter) Commit() { tw.w.Commit() }
