package pfq

import "sync"

// MockDevice is a Driver for tests and simulations. It records every
// accepted frame with its queue and xmit-more hint, and can be
// programmed to refuse submissions or go administratively down.
type MockDevice struct {
	name    string
	ifIndex int
	queues  int

	mu       sync.Mutex
	up       bool
	busyAt   int // refuse the n-th submission (1-based); 0 = never
	busyFrom int // refuse from the n-th submission on; 0 = never
	calls    int
	frames   [][]byte
	queueOf  []int
	moreOf   []bool
	selected int // fixed SelectQueue answer
}

// NewMockDevice creates an up device with the given interface index
// and TX queue count.
func NewMockDevice(name string, ifIndex, queues int) *MockDevice {
	if queues < 1 {
		queues = 1
	}
	return &MockDevice{
		name:    name,
		ifIndex: ifIndex,
		queues:  queues,
		up:      true,
	}
}

func (m *MockDevice) Name() string     { return m.name }
func (m *MockDevice) IfIndex() int     { return m.ifIndex }
func (m *MockDevice) NumTxQueues() int { return m.queues }

func (m *MockDevice) IsUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up
}

// SetUp flips the administrative state.
func (m *MockDevice) SetUp(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.up = up
}

// SetSelectQueue fixes the answer of the driver's queue selector.
func (m *MockDevice) SetSelectQueue(q int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = q
}

// BusyAt makes the n-th StartXmit (1-based, counted across queues)
// return busy, once.
func (m *MockDevice) BusyAt(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busyAt = n
}

// BusyFrom makes every StartXmit from the n-th on (1-based) return
// busy.
func (m *MockDevice) BusyFrom(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busyFrom = n
}

func (m *MockDevice) SelectQueue(frame []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

func (m *MockDevice) StartXmit(frame []byte, hwQueue int, more bool) TxStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.busyAt != 0 && m.calls == m.busyAt {
		return TxBusy
	}
	if m.busyFrom != 0 && m.calls >= m.busyFrom {
		return TxBusy
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.frames = append(m.frames, cp)
	m.queueOf = append(m.queueOf, hwQueue)
	m.moreOf = append(m.moreOf, more)
	return TxOK
}

// Sent returns the accepted frames in submission order.
func (m *MockDevice) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	copy(out, m.frames)
	return out
}

// SentCount returns the number of accepted frames.
func (m *MockDevice) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// Calls returns the number of StartXmit attempts, accepted or not.
func (m *MockDevice) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MoreFlags returns the xmit-more hint of each accepted frame.
func (m *MockDevice) MoreFlags() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bool, len(m.moreOf))
	copy(out, m.moreOf)
	return out
}

// Queues returns the hardware queue of each accepted frame.
func (m *MockDevice) Queues() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.queueOf))
	copy(out, m.queueOf)
	return out
}

// Compile-time interface check
var _ Driver = (*MockDevice)(nil)
