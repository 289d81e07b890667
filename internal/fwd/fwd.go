// Package fwd implements deferred multi-destination forwarding: a
// packet in flight through the capture pipeline is annotated with
// target devices instead of being transmitted, and a later commit
// replays it once per recorded target.
package fwd

import (
	"github.com/pfq-io/go-pfq/internal/constants"
	"github.com/pfq-io/go-pfq/internal/logging"
	"github.com/pfq-io/go-pfq/internal/netdev"
	"github.com/pfq-io/go-pfq/internal/skbuff"
	"github.com/pfq-io/go-pfq/internal/stats"
)

// Log is the per-buffer forwarding annotation: the recorded target
// devices, the number of deliveries still owed, and whether the buffer
// must also be handed to the local stack. A buffer may be released
// only once XmitTodo is zero and ToKernel is clear.
type Log struct {
	Devs     [constants.FwdLogLen]*netdev.Device
	NumDevs  int
	XmitTodo int
	ToKernel bool
}

// CountDev returns how many entries of the log point at dev.
func (l *Log) CountDev(dev *netdev.Device) int {
	n := 0
	for i := 0; i < l.NumDevs; i++ {
		if l.Devs[i] == dev {
			n++
		}
	}
	return n
}

// Buff pairs an in-flight buffer with its annotation.
type Buff struct {
	Skb *skbuff.Buffer
	Log *Log
}

// Data tracks the buffers of one capture pass and their logs, in
// arrival order. Per destination device the commit submits in this
// order.
type Data struct {
	bufs []Buff
	log  *logging.Logger
}

// NewData creates the tracking state for up to capacity in-flight
// buffers.
func NewData(capacity int, log *logging.Logger) *Data {
	return &Data{
		bufs: make([]Buff, 0, capacity),
		log:  log,
	}
}

// Add registers an in-flight buffer and returns its handle.
func (d *Data) Add(skb *skbuff.Buffer) Buff {
	b := Buff{Skb: skb, Log: &Log{}}
	d.bufs = append(d.bufs, b)
	return b
}

// Len returns the number of tracked buffers.
func (d *Data) Len() int { return len(d.bufs) }

// At returns the i-th tracked buffer.
func (d *Data) At(i int) Buff { return d.bufs[i] }

// Reset forgets all tracked buffers. Buffers still owing deliveries
// must have been committed or released first.
func (d *Data) Reset() {
	d.bufs = d.bufs[:0]
}

// LazyXmit records dev as a forwarding target of the buffer and sets
// its queue mapping. Returns false when the log is full; the packet
// simply does not gain this target.
func (d *Data) LazyXmit(b Buff, dev *netdev.Device, hwQueue int) bool {
	if b.Log.NumDevs >= constants.FwdLogLen {
		if d.log != nil && d.log.Allow() {
			d.log.Warnf("bridge %s: too many annotations", dev.Name())
		}
		return false
	}
	b.Skb.SetQueueMapping(hwQueue)
	b.Log.Devs[b.Log.NumDevs] = dev
	b.Log.NumDevs++
	b.Log.XmitTodo++
	return true
}

// BatchLazyXmit records dev on every tracked buffer. Returns how many
// gained the target.
func (d *Data) BatchLazyXmit(dev *netdev.Device, hwQueue int) int {
	n := 0
	for _, b := range d.bufs {
		if d.LazyXmit(b, dev, hwQueue) {
			n++
		}
	}
	return n
}

// BatchLazyXmitByMask records dev on the tracked buffers whose index
// bit is set in mask.
func (d *Data) BatchLazyXmitByMask(mask uint64, dev *netdev.Device, hwQueue int) int {
	n := 0
	for i, b := range d.bufs {
		if i >= 64 {
			break
		}
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if d.LazyXmit(b, dev, hwQueue) {
			n++
		}
	}
	return n
}

// Targets is the per-commit summary: each distinct target device and
// how many submissions the current logs owe it.
type Targets struct {
	Devs []*netdev.Device
	Cnt  []int
}

// Num returns the number of distinct target devices.
func (t *Targets) Num() int { return len(t.Devs) }

// ComputeTargets scans the logs and builds the distinct-device summary
// in first-seen order.
func (d *Data) ComputeTargets() *Targets {
	t := &Targets{}
	for _, b := range d.bufs {
		for i := 0; i < b.Log.NumDevs; i++ {
			dev := b.Log.Devs[i]
			found := false
			for j, have := range t.Devs {
				if have == dev {
					t.Cnt[j]++
					found = true
					break
				}
			}
			if !found {
				t.Devs = append(t.Devs, dev)
				t.Cnt = append(t.Cnt, 1)
			}
		}
	}
	return t
}

// Exec performs the deferred transmissions. For each distinct target
// device it walks the tracked buffers in order, takes the device's TX
// queue lock at the first buffer referencing it, and submits each
// buffer as many times as its log records the device. Every submission
// clones when other consumers still exist (to-kernel delivery pending
// or more deliveries owed) and takes the last reference otherwise.
// xmit-more is set on all but the device's final submission. Failures
// are counted as aborts and never stop the commit for other devices.
// Returns the number of frames handed to drivers.
func (d *Data) Exec(ts *Targets, st *stats.Global, obs func(targets int, sent, aborted uint64)) int {
	sent := 0
	aborted := uint64(0)

	for n := 0; n < ts.Num(); n++ {
		dev := ts.Devs[n]
		sentDev := 0

		var txq *netdev.TxQueue
		queue := 0

		for _, b := range d.bufs {
			num := b.Log.CountDev(dev)
			if num == 0 {
				continue
			}

			// The first packet for this device fixes the queue.
			if txq == nil {
				txq, queue = dev.PickTx(b.Skb.Bytes(), b.Skb.QueueMapping())
				txq.Lock()
			}

			for j := 0; j < num; j++ {
				sentDev++
				more := sentDev != ts.Cnt[n]

				toClone := b.Log.ToKernel
				if !toClone {
					toClone = b.Log.XmitTodo > 1
					b.Log.XmitTodo--
				}

				var nskb *skbuff.Buffer
				if toClone {
					nskb = b.Skb.Clone()
				} else {
					nskb = b.Skb.Get()
				}

				if dev.XmitOn(txq, nskb, queue, more) == nil {
					sent++
				} else {
					st.Abrt.IncAny()
					aborted++
				}
			}
		}

		if txq != nil {
			txq.Unlock()
		}
	}

	if obs != nil {
		obs(ts.Num(), uint64(sent), aborted)
	}
	return sent
}

// Reclaim releases the buffers whose deliveries are all committed and
// which owe nothing to the local stack. Returns how many were freed;
// allocator-path releases are accounted on st.
func (d *Data) Reclaim(st *stats.Global) int {
	n := 0
	for _, b := range d.bufs {
		if b.Log.XmitTodo == 0 && !b.Log.ToKernel {
			if b.Skb.Free() {
				st.OsFree.IncAny()
			}
			n++
		}
	}
	return n
}
