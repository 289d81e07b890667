// Package driver provides Driver implementations: an in-memory
// capturing device for tests and simulation, and a raw AF_PACKET
// device for real transmission on Linux.
package driver

import (
	"sync"

	"github.com/pfq-io/go-pfq/internal/interfaces"
)

// Mem is an in-memory device: accepted frames are counted and, up to a
// configurable capture limit, retained for inspection. It stands in
// for a NIC in simulations and benchmarks.
type Mem struct {
	name    string
	ifIndex int
	queues  int
	capture int

	mu     sync.Mutex
	up     bool
	frames [][]byte
	count  uint64
	bytes  uint64
}

// NewMem creates an up in-memory device. capture bounds how many
// frames are retained; 0 retains none (count-only).
func NewMem(name string, ifIndex, queues, capture int) *Mem {
	if queues < 1 {
		queues = 1
	}
	return &Mem{
		name:    name,
		ifIndex: ifIndex,
		queues:  queues,
		capture: capture,
		up:      true,
	}
}

func (m *Mem) Name() string     { return m.name }
func (m *Mem) IfIndex() int     { return m.ifIndex }
func (m *Mem) NumTxQueues() int { return m.queues }

func (m *Mem) IsUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up
}

// SetUp flips the administrative state.
func (m *Mem) SetUp(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.up = up
}

// SelectQueue spreads frames over the queues by length, a stand-in for
// a real driver's flow hash.
func (m *Mem) SelectQueue(frame []byte) int {
	return len(frame) % m.queues
}

func (m *Mem) StartXmit(frame []byte, hwQueue int, more bool) interfaces.TxStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.count++
	m.bytes += uint64(len(frame))
	if len(m.frames) < m.capture {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		m.frames = append(m.frames, cp)
	}
	return interfaces.TxOK
}

// Stats returns frames and bytes accepted so far.
func (m *Mem) Stats() (frames, bytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count, m.bytes
}

// Captured returns the retained frames.
func (m *Mem) Captured() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	copy(out, m.frames)
	return out
}

// Compile-time interface check
var _ interfaces.Driver = (*Mem)(nil)
