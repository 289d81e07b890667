package fwd

import (
	"io"
	"sync"
	"testing"

	"github.com/pfq-io/go-pfq/internal/constants"
	"github.com/pfq-io/go-pfq/internal/interfaces"
	"github.com/pfq-io/go-pfq/internal/logging"
	"github.com/pfq-io/go-pfq/internal/netdev"
	"github.com/pfq-io/go-pfq/internal/skbuff"
	"github.com/pfq-io/go-pfq/internal/stats"
)

// Mock driver for testing
type mockDriver struct {
	name string

	mu     sync.Mutex
	busy   bool
	frames [][]byte
	moreOf []bool
}

func (m *mockDriver) Name() string              { return m.name }
func (m *mockDriver) IfIndex() int              { return 1 }
func (m *mockDriver) IsUp() bool                { return true }
func (m *mockDriver) NumTxQueues() int          { return 1 }
func (m *mockDriver) SelectQueue(fr []byte) int { return 0 }

func (m *mockDriver) StartXmit(frame []byte, hwQueue int, more bool) interfaces.TxStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return interfaces.TxBusy
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.frames = append(m.frames, cp)
	m.moreOf = append(m.moreOf, more)
	return interfaces.TxOK
}

func testLogger() *logging.Logger {
	return logging.NewLogger(&logging.Config{Level: logging.LevelError, Output: io.Discard})
}

func newBuf(c byte) *skbuff.Buffer {
	b := skbuff.Alloc(256, 0)
	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = c
	}
	b.Fill(nil, 0, payload, 64)
	return b
}

func TestLazyXmitRecords(t *testing.T) {
	st := stats.NewGlobal(1)
	eth0 := netdev.Wrap(&mockDriver{name: "eth0"}, st)

	d := NewData(4, testLogger())
	b := d.Add(newBuf(1))

	if !d.LazyXmit(b, eth0, 3) {
		t.Fatal("lazy xmit failed on an empty log")
	}
	if b.Log.NumDevs != 1 || b.Log.XmitTodo != 1 {
		t.Fatalf("log: devs=%d todo=%d, want 1/1", b.Log.NumDevs, b.Log.XmitTodo)
	}
	if b.Skb.QueueMapping() != 3 {
		t.Fatalf("queue mapping = %d, want 3", b.Skb.QueueMapping())
	}
}

func TestLazyXmitLogFull(t *testing.T) {
	st := stats.NewGlobal(1)
	eth0 := netdev.Wrap(&mockDriver{name: "eth0"}, st)

	d := NewData(1, testLogger())
	b := d.Add(newBuf(1))

	for i := 0; i < constants.FwdLogLen; i++ {
		if !d.LazyXmit(b, eth0, 0) {
			t.Fatalf("lazy xmit %d refused below capacity", i)
		}
	}
	if d.LazyXmit(b, eth0, 0) {
		t.Fatal("lazy xmit accepted beyond the log capacity")
	}
	if b.Log.XmitTodo != constants.FwdLogLen {
		t.Fatalf("todo = %d, want %d", b.Log.XmitTodo, constants.FwdLogLen)
	}
}

func TestBatchLazyXmitByMask(t *testing.T) {
	st := stats.NewGlobal(1)
	eth0 := netdev.Wrap(&mockDriver{name: "eth0"}, st)

	d := NewData(4, testLogger())
	for i := 0; i < 4; i++ {
		d.Add(newBuf(byte(i)))
	}

	if n := d.BatchLazyXmitByMask(0b1010, eth0, 0); n != 2 {
		t.Fatalf("mask lazy xmit annotated %d, want 2", n)
	}
	if d.At(0).Log.NumDevs != 0 || d.At(1).Log.NumDevs != 1 {
		t.Fatal("mask selected the wrong buffers")
	}
}

// Buffer A forwards to eth0 once and eth1 twice, B to eth0 once, C to
// eth1 once. The commit fans out exactly that, in buffer order, with
// xmit-more cleared only on each device's last submission.
func TestCommitFanOut(t *testing.T) {
	st := stats.NewGlobal(1)
	drv0 := &mockDriver{name: "eth0"}
	drv1 := &mockDriver{name: "eth1"}
	eth0 := netdev.Wrap(drv0, st)
	eth1 := netdev.Wrap(drv1, st)

	d := NewData(3, testLogger())
	a := d.Add(newBuf('A'))
	b := d.Add(newBuf('B'))
	c := d.Add(newBuf('C'))

	d.LazyXmit(a, eth0, 0)
	d.LazyXmit(a, eth1, 0)
	d.LazyXmit(a, eth1, 0)
	d.LazyXmit(b, eth0, 0)
	d.LazyXmit(c, eth1, 0)

	ts := d.ComputeTargets()
	if ts.Num() != 2 {
		t.Fatalf("distinct targets = %d, want 2", ts.Num())
	}

	sent := d.Exec(ts, st, nil)
	if sent != 5 {
		t.Fatalf("sent = %d, want 5", sent)
	}

	if len(drv0.frames) != 2 || drv0.frames[0][0] != 'A' || drv0.frames[1][0] != 'B' {
		t.Fatalf("eth0 saw %d frames", len(drv0.frames))
	}
	if len(drv1.frames) != 3 || drv1.frames[0][0] != 'A' || drv1.frames[1][0] != 'A' || drv1.frames[2][0] != 'C' {
		t.Fatalf("eth1 saw %d frames", len(drv1.frames))
	}

	// xmit-more threading per device.
	if !drv0.moreOf[0] || drv0.moreOf[1] {
		t.Fatalf("eth0 more flags = %v", drv0.moreOf)
	}
	if !drv1.moreOf[0] || !drv1.moreOf[1] || drv1.moreOf[2] {
		t.Fatalf("eth1 more flags = %v", drv1.moreOf)
	}

	// Every delivery owed was committed.
	for i := 0; i < d.Len(); i++ {
		if todo := d.At(i).Log.XmitTodo; todo != 0 {
			t.Fatalf("buffer %d still owes %d deliveries", i, todo)
		}
	}

	// Refcounts are back to their pre-commit values.
	for i := 0; i < d.Len(); i++ {
		if users := d.At(i).Skb.Users(); users != 1 {
			t.Fatalf("buffer %d users = %d, want 1", i, users)
		}
	}

	if st.Abrt.Read() != 0 {
		t.Fatalf("abrt = %d, want 0", st.Abrt.Read())
	}

	if n := d.Reclaim(st); n != 3 {
		t.Fatalf("reclaimed %d buffers, want 3", n)
	}
}

// A failing device counts aborts but does not stop the commit for the
// other devices.
func TestCommitIsolatesFailures(t *testing.T) {
	st := stats.NewGlobal(1)
	drv0 := &mockDriver{name: "eth0", busy: true}
	drv1 := &mockDriver{name: "eth1"}
	eth0 := netdev.Wrap(drv0, st)
	eth1 := netdev.Wrap(drv1, st)

	d := NewData(2, testLogger())
	a := d.Add(newBuf('A'))
	b := d.Add(newBuf('B'))

	d.LazyXmit(a, eth0, 0)
	d.LazyXmit(b, eth1, 0)

	ts := d.ComputeTargets()
	sent := d.Exec(ts, st, nil)
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if st.Abrt.Read() != 1 {
		t.Fatalf("abrt = %d, want 1", st.Abrt.Read())
	}
	if len(drv1.frames) != 1 {
		t.Fatal("the healthy device was starved by the failing one")
	}
}

// A buffer owed to the kernel keeps its clone-only delivery and is not
// reclaimable after the commit.
func TestCommitToKernelClones(t *testing.T) {
	st := stats.NewGlobal(1)
	drv0 := &mockDriver{name: "eth0"}
	eth0 := netdev.Wrap(drv0, st)

	d := NewData(1, testLogger())
	a := d.Add(newBuf('A'))
	a.Log.ToKernel = true

	d.LazyXmit(a, eth0, 0)

	ts := d.ComputeTargets()
	if sent := d.Exec(ts, st, nil); sent != 1 {
		t.Fatal("commit did not deliver")
	}

	// The to-kernel path always clones; the delivery count is not
	// consumed and the buffer stays alive for the local stack.
	if a.Log.XmitTodo != 1 {
		t.Fatalf("todo = %d, want 1 (to-kernel keeps the count)", a.Log.XmitTodo)
	}
	if n := d.Reclaim(st); n != 0 {
		t.Fatalf("reclaimed %d, want 0", n)
	}
	if a.Skb.Users() != 1 {
		t.Fatalf("users = %d, want 1", a.Skb.Users())
	}
}
