package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pfq-io/go-pfq/internal/constants"
	"github.com/pfq-io/go-pfq/internal/interfaces"
	"github.com/pfq-io/go-pfq/internal/logging"
	"github.com/pfq-io/go-pfq/internal/netdev"
	"github.com/pfq-io/go-pfq/internal/ring"
	"github.com/pfq-io/go-pfq/internal/stats"
)

// Mock driver for testing
type mockDriver struct {
	mu     sync.Mutex
	up     bool
	busyAt int // refuse from the n-th submission on (1-based)
	calls  int
	frames [][]byte
	moreOf []bool
	times  []time.Time
}

func newMockDriver() *mockDriver {
	return &mockDriver{up: true}
}

func (m *mockDriver) Name() string               { return "mock0" }
func (m *mockDriver) IfIndex() int               { return 1 }
func (m *mockDriver) NumTxQueues() int           { return 1 }
func (m *mockDriver) SelectQueue(fr []byte) int  { return 0 }

func (m *mockDriver) IsUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up
}

func (m *mockDriver) StartXmit(frame []byte, hwQueue int, more bool) interfaces.TxStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.busyAt != 0 && m.calls >= m.busyAt {
		return interfaces.TxBusy
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.frames = append(m.frames, cp)
	m.moreOf = append(m.moreOf, more)
	m.times = append(m.times, time.Now())
	return interfaces.TxOK
}

func (m *mockDriver) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

type env struct {
	eng *Engine
	st  *stats.Global
	drv *mockDriver
	dev *netdev.Device
	opt *TxOpt
	r   *ring.Ring
	w   *ring.Writer
}

func newEnv(t *testing.T, poolSize int) *env {
	t.Helper()
	log := logging.NewLogger(&logging.Config{Level: logging.LevelError, Output: io.Discard})
	st := stats.NewGlobal(4)
	eng := New(Config{PoolSize: poolSize, CPUs: 4}, st, log, nil)

	r, err := ring.New(16*1024, log)
	if err != nil {
		t.Fatalf("ring: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	drv := newMockDriver()
	dev := netdev.Wrap(drv, st)

	opt := &TxOpt{
		Queues: []TxQueueConf{{HwQueue: 0, IfIndex: 1, Ring: r}},
		Stats:  stats.NewSock(4),
	}
	return &env{eng: eng, st: st, drv: drv, dev: dev, opt: opt, r: r, w: r.Writer()}
}

func (e *env) produce(t *testing.T, descs ...struct {
	nsec uint64
	len  int
}) {
	t.Helper()
	for i, d := range descs {
		payload := make([]byte, d.len)
		for j := range payload {
			payload[j] = byte(i + 1)
		}
		if !e.w.Write(d.nsec, payload) {
			t.Fatalf("descriptor %d did not fit the half", i)
		}
	}
	e.w.Commit()
}

type desc = struct {
	nsec uint64
	len  int
}

// Three immediate descriptors, a willing device: all sent in order,
// the last submission with xmit-more cleared.
func TestDrainSendsInOrder(t *testing.T) {
	e := newEnv(t, 0)
	e.produce(t, desc{0, 100}, desc{0, 100}, desc{0, 100})

	sent, err := e.eng.QueueXmit(0, e.opt, e.dev, constants.NoKthread, 0, interfaces.Never)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sent != 3 {
		t.Fatalf("sent = %d, want 3", sent)
	}

	if got := e.opt.Stats.Sent.Read(); got != 3 {
		t.Fatalf("socket sent counter = %d, want 3", got)
	}
	if got := e.opt.Stats.Disc.Read(); got != 0 {
		t.Fatalf("socket disc counter = %d, want 0", got)
	}

	for i, f := range e.drv.frames {
		if f[0] != byte(i+1) {
			t.Fatalf("frame %d out of order", i)
		}
	}
	for i, more := range e.drv.moreOf {
		want := i != len(e.drv.moreOf)-1
		if more != want {
			t.Fatalf("frame %d xmit_more = %v, want %v", i, more, want)
		}
	}
}

// The device refuses the second submission: one sent, the rest of the
// drained half counted as discarded, and the drain ends cleanly.
func TestDrainDeviceBusy(t *testing.T) {
	e := newEnv(t, 0)
	e.drv.busyAt = 2
	e.produce(t, desc{0, 100}, desc{0, 100}, desc{0, 100})

	sent, err := e.eng.QueueXmit(0, e.opt, e.dev, constants.NoKthread, 0, interfaces.Never)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if got := e.opt.Stats.Disc.Read(); got != 2 {
		t.Fatalf("disc = %d, want 2", got)
	}
	// Driver refusals are not aborts.
	if got := e.st.Abrt.Read(); got != 0 {
		t.Fatalf("abrt = %d, want 0", got)
	}
	// No pool on the flush path: the sent buffer and the two
	// undelivered ones all went back to the allocator.
	if got := e.st.OsFree.Read(); got != 3 {
		t.Fatalf("os_free = %d, want 3", got)
	}
}

// Short packets are padded to the Ethernet minimum in the copy, while
// the frame length stays the descriptor's.
func TestDrainShortPacket(t *testing.T) {
	e := newEnv(t, 0)
	e.produce(t, desc{0, 10})

	sent, err := e.eng.QueueXmit(0, e.opt, e.dev, constants.NoKthread, 0, interfaces.Never)
	if err != nil || sent != 1 {
		t.Fatalf("drain: sent=%d err=%v", sent, err)
	}
	if got := len(e.drv.frames[0]); got != 10 {
		t.Fatalf("frame length = %d, want 10", got)
	}
}

// Paced descriptors are not submitted before their timestamps and stay
// in order.
func TestDrainPacing(t *testing.T) {
	e := newEnv(t, 0)

	start := time.Now()
	t0 := start.Add(5 * time.Millisecond)
	t1 := start.Add(10 * time.Millisecond)
	e.produce(t, desc{uint64(t0.UnixNano()), 64}, desc{uint64(t1.UnixNano()), 64})

	sent, err := e.eng.QueueXmit(0, e.opt, e.dev, constants.NoKthread, 0, interfaces.Never)
	if err != nil || sent != 2 {
		t.Fatalf("drain: sent=%d err=%v", sent, err)
	}

	// Allow a small clock-read jitter.
	const eps = time.Millisecond
	if e.drv.times[0].Add(eps).Before(t0) {
		t.Fatalf("frame 0 submitted at %v, before its timestamp %v", e.drv.times[0], t0)
	}
	if e.drv.times[1].Add(eps).Before(t1) {
		t.Fatalf("frame 1 submitted at %v, before its timestamp %v", e.drv.times[1], t1)
	}
	if e.drv.times[1].Before(e.drv.times[0]) {
		t.Fatal("pacing reordered the frames")
	}
}

// A future-paced descriptor flushes the queued due packets before the
// wait begins.
func TestDrainFlushBeforeWait(t *testing.T) {
	e := newEnv(t, 0)

	future := time.Now().Add(20 * time.Millisecond)
	e.produce(t, desc{0, 64}, desc{uint64(future.UnixNano()), 64})

	done := make(chan struct{})
	go func() {
		e.eng.QueueXmit(0, e.opt, e.dev, constants.NoKthread, 0, interfaces.Never)
		close(done)
	}()

	// The due packet must hit the device well before the paced one's
	// timestamp.
	deadline := time.Now().Add(15 * time.Millisecond)
	for e.drv.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if e.drv.sentCount() == 0 {
		t.Fatal("due packet was held back behind the pacing wait")
	}
	<-done
}

// A stop request mid-drain: what was sent stays sent, the rest is
// discarded, the half is cleared, and the drain reports interruption.
func TestDrainInterrupted(t *testing.T) {
	e := newEnv(t, 0)

	future := time.Now().Add(time.Hour)
	e.produce(t, desc{0, 64}, desc{uint64(future.UnixNano()), 64})

	// Give up as soon as the first frame is out.
	giveUp := func() bool { return e.drv.sentCount() >= 1 }

	sent, err := e.eng.QueueXmit(0, e.opt, e.dev, constants.NoKthread, 0, giveUp)
	if !errors.Is(err, interfaces.ErrInterrupted) {
		t.Fatalf("drain: err=%v, want ErrInterrupted", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if got := e.opt.Stats.Disc.Read(); got != 1 {
		t.Fatalf("disc = %d, want 1", got)
	}

	// The drained half (parity 0, the first swap's) was cleared.
	cur := e.r.Cursor(0)
	if _, ok := cur.Header(); ok {
		t.Fatal("drained half still holds a live descriptor")
	}

	// A fresh drain moves on to the other half, which holds nothing.
	sent, err = e.eng.QueueXmit(0, e.opt, e.dev, constants.NoKthread, 0, interfaces.Never)
	if err != nil || sent != 0 {
		t.Fatalf("drain after interrupt: sent=%d err=%v", sent, err)
	}
}

// With the give-up held high the drain returns promptly and every
// descriptor is accounted as discarded.
func TestDrainGiveUpImmediately(t *testing.T) {
	e := newEnv(t, 0)
	e.produce(t, desc{0, 64}, desc{0, 64}, desc{0, 64})

	start := time.Now()
	sent, err := e.eng.QueueXmit(0, e.opt, e.dev, constants.NoKthread, 0, func() bool { return true })
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("drain under give-up took %v", elapsed)
	}
	if !errors.Is(err, interfaces.ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
	if got := e.opt.Stats.Disc.Read(); got != 3 {
		t.Fatalf("disc = %d, want 3", got)
	}
}

// sent + disc always equals the number of live descriptors drained.
func TestDrainAccounting(t *testing.T) {
	cases := []struct {
		name   string
		busyAt int
		descs  int
	}{
		{"all accepted", 0, 10},
		{"first refused", 1, 10},
		{"mid refused", 5, 10},
		{"last refused", 10, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, 0)
			e.drv.busyAt = tc.busyAt

			ds := make([]desc, tc.descs)
			for i := range ds {
				ds[i] = desc{0, 64}
			}
			e.produce(t, ds...)

			sent, err := e.eng.QueueXmit(0, e.opt, e.dev, constants.NoKthread, 0, interfaces.Never)
			if err != nil {
				t.Fatalf("drain: %v", err)
			}
			disc := int(e.opt.Stats.Disc.Read())
			if sent+disc != tc.descs {
				t.Fatalf("sent %d + disc %d != %d descriptors", sent, disc, tc.descs)
			}
		})
	}
}

// Transmitted buffers recycle through the worker's pool and are reused
// by the next drain.
func TestDrainPoolRecycling(t *testing.T) {
	e := newEnv(t, 32)

	const cpu = 1
	e.produce(t, desc{0, 64}, desc{0, 64}, desc{0, 64})
	if _, err := e.eng.QueueXmit(0, e.opt, e.dev, cpu, 0, interfaces.Never); err != nil {
		t.Fatalf("drain: %v", err)
	}

	st := e.eng.PoolStats()
	if st.Push != 3 {
		t.Fatalf("pool push = %d, want 3", st.Push)
	}

	e.produce(t, desc{0, 64}, desc{0, 64})
	if _, err := e.eng.QueueXmit(0, e.opt, e.dev, cpu, 0, interfaces.Never); err != nil {
		t.Fatalf("second drain: %v", err)
	}

	st = e.eng.PoolStats()
	if st.Pop == 0 {
		t.Fatal("second drain did not reuse pooled buffers")
	}
}

// With recycling switched off the drain bypasses the pools entirely.
func TestEnablePools(t *testing.T) {
	e := newEnv(t, 32)
	e.eng.EnablePools(false)

	e.produce(t, desc{0, 64}, desc{0, 64})
	if _, err := e.eng.QueueXmit(0, e.opt, e.dev, 1, 0, interfaces.Never); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if st := e.eng.PoolStats(); st.Push != 0 {
		t.Fatalf("pool push = %d with recycling off", st.Push)
	}
	if got := e.st.OsFree.Read(); got != 2 {
		t.Fatalf("os_free = %d, want 2", got)
	}
}

// The flush entry point resolves the device through the registry and
// refuses unknown interfaces.
func TestQueueFlush(t *testing.T) {
	e := newEnv(t, 0)
	reg := netdev.NewRegistry()
	reg.Register(e.dev)

	e.produce(t, desc{0, 64})
	sent, err := e.eng.QueueFlush(e.opt, 0, reg, interfaces.Never)
	if err != nil || sent != 1 {
		t.Fatalf("flush: sent=%d err=%v", sent, err)
	}

	e.opt.Queues[0].IfIndex = 99
	_, err = e.eng.QueueFlush(e.opt, 0, reg, interfaces.Never)
	if !errors.Is(err, interfaces.ErrNoDevice) {
		t.Fatalf("flush with bad ifindex: %v, want ErrNoDevice", err)
	}
}

// Flush is a no-op while a worker owns the ring.
func TestQueueFlushSkipsOwnedRing(t *testing.T) {
	e := newEnv(t, 0)
	reg := netdev.NewRegistry()
	reg.Register(e.dev)

	ctx, cancel := context.WithCancel(context.Background())
	w := e.eng.StartWorker(ctx, 0, e.opt, e.dev, 1)
	e.opt.Queues[0].Worker = w
	defer func() {
		cancel()
		w.Stop()
	}()

	sent, err := e.eng.QueueFlush(e.opt, 0, reg, interfaces.Never)
	if err != nil || sent != 0 {
		t.Fatalf("flush on owned ring: sent=%d err=%v", sent, err)
	}
}

// An end-to-end worker pass: produce, let the pinned worker drain,
// stop it.
func TestWorkerDrains(t *testing.T) {
	e := newEnv(t, 16)

	ctx := context.Background()
	w := e.eng.StartWorker(ctx, 0, e.opt, e.dev, 0)
	e.opt.Queues[0].Worker = w

	e.produce(t, desc{0, 128}, desc{0, 128})

	deadline := time.Now().Add(2 * time.Second)
	for e.drv.sentCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := e.drv.sentCount(); got != 2 {
		t.Fatalf("worker drained %d frames, want 2", got)
	}

	// Stop must break the worker out of its swap spin promptly.
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
