// Package netdev wraps a network driver with the per-queue state the
// TX core needs: one lock and one flow-control flag per hardware
// queue, queue selection and clamping, and the single/batch submit
// paths with the xmit-more hint threaded through.
package netdev

import (
	"sync"

	"code.hybscloud.com/atomix"

	"github.com/pfq-io/go-pfq/internal/interfaces"
	"github.com/pfq-io/go-pfq/internal/skbuff"
	"github.com/pfq-io/go-pfq/internal/stats"
)

// AnyQueue asks the driver's selector to pick the TX queue.
const AnyQueue = -1

// Device wraps a Driver with per-queue submission state.
type Device struct {
	drv    interfaces.Driver
	queues []TxQueue
	st     *stats.Global
}

// Wrap builds the device for a driver. The stats handle accounts
// allocator-path frees on failed submissions.
func Wrap(drv interfaces.Driver, st *stats.Global) *Device {
	n := drv.NumTxQueues()
	if n < 1 {
		n = 1
	}
	return &Device{
		drv:    drv,
		queues: make([]TxQueue, n),
		st:     st,
	}
}

// Driver returns the wrapped driver.
func (d *Device) Driver() interfaces.Driver { return d.drv }

// Name returns the interface name.
func (d *Device) Name() string { return d.drv.Name() }

// IfIndex returns the interface index.
func (d *Device) IfIndex() int { return d.drv.IfIndex() }

// NumTxQueues returns the number of hardware TX queues.
func (d *Device) NumTxQueues() int { return len(d.queues) }

// Queue returns the i-th TX queue object.
func (d *Device) Queue(i int) *TxQueue { return &d.queues[i] }

func (d *Device) capTxQueue(hwQueue int) int {
	if hwQueue < 0 || hwQueue >= len(d.queues) {
		return 0
	}
	return hwQueue
}

// PickTx resolves the hardware queue for a frame and returns its queue
// object. AnyQueue consults the driver's selector when the device has
// more than one queue; any out-of-range choice is clamped to 0.
func (d *Device) PickTx(frame []byte, hwQueue int) (*TxQueue, int) {
	if len(d.queues) != 1 && hwQueue == AnyQueue {
		hwQueue = d.drv.SelectQueue(frame)
	}
	hwQueue = d.capTxQueue(hwQueue)
	return &d.queues[hwQueue], hwQueue
}

// TxQueue is the submission state of one hardware TX queue. The lock
// serializes driver calls for the queue; it is the only lock the core
// ever holds across real work, and never nested with another.
type TxQueue struct {
	mu      sync.Mutex
	stopped atomix.Bool
}

// Lock takes the queue lock.
func (q *TxQueue) Lock() { q.mu.Lock() }

// Unlock drops the queue lock.
func (q *TxQueue) Unlock() { q.mu.Unlock() }

// Stopped reports whether flow control stopped the queue.
func (q *TxQueue) Stopped() bool { return q.stopped.Load() }

// SetStopped sets the flow-control state; drivers toggle it to assert
// backpressure without returning busy from StartXmit.
func (q *TxQueue) SetStopped(v bool) { q.stopped.Store(v) }

// XmitOn submits one buffer on a queue whose lock the caller already
// holds. On success the driver owns the frame and the buffer drops the
// consumed reference. Down devices and stopped queues fail the same
// way: the buffer is freed through the allocator path and the device
// counts as down.
func (d *Device) XmitOn(q *TxQueue, buf *skbuff.Buffer, hwQueue int, more bool) error {
	if d.drv.IsUp() && !q.Stopped() {
		if d.drv.StartXmit(buf.Bytes(), hwQueue, more) == interfaces.TxOK {
			buf.Free()
			return nil
		}
	}
	if buf.Free() {
		d.st.OsFree.IncAny()
	}
	return interfaces.ErrDeviceDown
}

// Xmit picks the queue for a single buffer, takes the lock and submits.
func (d *Device) Xmit(buf *skbuff.Buffer, hwQueue int, more bool) error {
	q, hw := d.PickTx(buf.Bytes(), hwQueue)
	buf.SetQueueMapping(hw)
	q.Lock()
	err := d.XmitOn(q, buf, hw, more)
	q.Unlock()
	return err
}

// BatchXmit submits a batch under one hold of the queue lock, setting
// xmit-more on every frame but the last. The first driver refusal
// terminates the batch: the failed buffer was already freed by XmitOn
// and the remainder is freed through the allocator path. Returns the
// number of frames the driver accepted.
func (d *Device) BatchXmit(skbs *skbuff.Batch, hwQueue int) int {
	if skbs.Len() == 0 {
		return 0
	}
	q, hw := d.PickTx(skbs.At(0).Bytes(), hwQueue)
	last := skbs.Len() - 1
	sent := 0

	q.Lock()
	for i := 0; i < skbs.Len(); i++ {
		buf := skbs.At(i)
		buf.SetQueueMapping(hw)
		if d.XmitOn(q, buf, hw, i != last) != nil {
			q.Unlock()
			d.freeFrom(skbs, sent+1)
			return sent
		}
		sent++
	}
	q.Unlock()
	return sent
}

// BatchXmitByMask is BatchXmit over only the indices set in mask, with
// no frame packing: every submission clears xmit-more. On a driver
// refusal the unprocessed masked entries are freed; entries outside
// the mask stay with the caller.
func (d *Device) BatchXmitByMask(skbs *skbuff.Batch, mask uint64, hwQueue int) int {
	if skbs.Len() == 0 {
		return 0
	}
	q, hw := d.PickTx(skbs.At(0).Bytes(), hwQueue)
	sent := 0
	failed := false

	q.Lock()
	skbs.RangeMask(mask, func(i int, buf *skbuff.Buffer) {
		if failed {
			if buf.Free() {
				d.st.OsFree.IncAny()
			}
			return
		}
		buf.SetQueueMapping(hw)
		if d.XmitOn(q, buf, hw, false) != nil {
			failed = true
			return
		}
		sent++
	})
	q.Unlock()
	return sent
}

// freeFrom releases the unsent tail of a terminated batch through the
// allocator path. The failed buffer itself was freed during submit.
func (d *Device) freeFrom(skbs *skbuff.Batch, from int) {
	skbs.RangeFrom(from, func(i int, buf *skbuff.Buffer) {
		if buf.Free() {
			d.st.OsFree.IncAny()
		}
	})
}
