package engine

import (
	"github.com/pfq-io/go-pfq/internal/clock"
	"github.com/pfq-io/go-pfq/internal/constants"
	"github.com/pfq-io/go-pfq/internal/interfaces"
	"github.com/pfq-io/go-pfq/internal/netdev"
	"github.com/pfq-io/go-pfq/internal/skbuff"
)

// QueueXmit is one drain: swap the ring, walk the drained half, build
// and pace packet buffers, hand batches to the device, account what
// was sent and what was given up on, and clear the half.
//
// cpu identifies the owning worker, or constants.NoKthread for the
// synchronous flush path; node is the NUMA hint for allocations.
// Returns the number of packets sent. The error is ErrInterrupted when
// giveUp cut the drain short; everything already drained has been
// accounted and the ring is left consistent.
func (e *Engine) QueueXmit(idx int, to *TxOpt, dev *netdev.Device, cpu, node int, giveUp interfaces.GiveUp) (int, error) {
	q := &to.Queues[idx]
	txs := q.Ring
	hwQueue := q.HwQueue
	local := e.LocalPool(cpu)

	// Swap the soft TX queue.
	swap, err := txs.Swap(cpu != constants.NoKthread, giveUp)
	if err != nil {
		return 0, err
	}

	cur := txs.Cursor(swap)
	var skbs skbuff.Batch

	now := clock.Now()
	totSent := 0
	interrupted := false

	for {
		hdr, ok := cur.Header()
		if !ok {
			break
		}

		// If the batch is full, or the next packet is paced into
		// the future while due packets are queued, transmit now.
		if transmissionRequired(&skbs, now, hdr.Nsec) {
			sent := e.fullBatchXmit(local, &skbs, dev, hwQueue, giveUp)
			if sent < 0 {
				totSent += ^sent
				interrupted = true
				break
			}
			totSent += sent
			if skbs.Len() > 0 {
				// The device refused the tail; stop building
				// more, the rest of the half is discarded.
				break
			}
		}

		// Wait until the packet is due.
		if hdr.Nsec > uint64(now) {
			now = clock.WaitUntil(int64(hdr.Nsec), giveUp)
		}

		skb := e.allocSkb(local, node)
		if skb == nil {
			if e.log != nil && e.log.Allow() {
				e.log.Errorf("tx[%d]: could not allocate a packet buffer", idx)
			}
			break
		}

		skb.Fill(dev.Driver(), hwQueue, cur.PaddedPayload(hdr, constants.MinCopyLen), int(hdr.Len))
		skbs.Push(skb)
		cur.Advance(hdr)
	}

	// Flush the residual batch.
	if skbs.Len() > 0 && !interrupted {
		sent := e.fullBatchXmit(local, &skbs, dev, hwQueue, giveUp)
		if sent < 0 {
			totSent += ^sent
			interrupted = true
		} else {
			totSent += sent
		}
	}

	// Whatever is still in the batch never reached the device.
	disc := skbs.Len()
	skbs.Range(func(i int, buf *skbuff.Buffer) {
		e.freeSkb(local, buf)
	})
	skbs.Clear()

	// The rest of the half was drained without being transmitted.
	for {
		hdr, ok := cur.Header()
		if !ok {
			break
		}
		cur.Advance(hdr)
		disc++
	}

	e.account(to, cpu, uint64(totSent), uint64(disc))
	if e.obs != nil {
		e.obs.ObserveDrain(uint64(totSent), uint64(disc), interrupted)
	}

	txs.Clear(swap)

	if interrupted {
		return totSent, interfaces.ErrInterrupted
	}
	return totSent, nil
}

// account updates the per-socket and global counters, through the
// owned per-CPU cells when a worker drains, through the shared slow
// path otherwise.
func (e *Engine) account(to *TxOpt, cpu int, sent, disc uint64) {
	if cpu != constants.NoKthread {
		to.Stats.Sent.Add(cpu, sent)
		to.Stats.Disc.Add(cpu, disc)
		e.global.Sent.Add(cpu, sent)
		e.global.Disc.Add(cpu, disc)
	} else {
		to.Stats.Sent.AddAny(sent)
		to.Stats.Disc.AddAny(disc)
		e.global.Sent.AddAny(sent)
		e.global.Disc.AddAny(disc)
	}
}

// QueueFlush is the synchronous drain entry point: when no worker owns
// the ring it resolves the device from the configured interface index
// and drains on the calling task. A vanished device fails with
// ErrNoDevice.
func (e *Engine) QueueFlush(to *TxOpt, idx int, reg *netdev.Registry, giveUp interfaces.GiveUp) (int, error) {
	q := &to.Queues[idx]
	if q.Worker != nil {
		return 0, nil
	}

	dev := reg.ByIndex(q.IfIndex)
	if dev == nil {
		if e.log != nil && e.log.Allow() {
			e.log.Warnf("tx[%d]: flush: bad interface index %d", idx, q.IfIndex)
		}
		return 0, interfaces.ErrNoDevice
	}

	return e.QueueXmit(idx, to, dev, constants.NoKthread, e.node, giveUp)
}
