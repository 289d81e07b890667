// Package skbuff provides the packet buffer type the TX core moves
// around: a reference-counted wrapper over a payload slab, plus the
// fixed-capacity batch used for device submission.
package skbuff

import (
	"code.hybscloud.com/atomix"
	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/pfq-io/go-pfq/internal/constants"
	"github.com/pfq-io/go-pfq/internal/interfaces"
)

// Buffer is a packet buffer. It owns a reference count of its own and
// shares the payload slab with clones through a second count. The slab
// is allocated non-zeroed: every byte the device sees is written by
// Fill first.
type Buffer struct {
	data    []byte // full slab, cap == allocation size
	length  int    // current packet length
	dev     interfaces.Driver
	mapping int

	users   atomix.Int32
	dataref *atomix.Int32 // shared with clones
}

// Alloc creates a buffer with a slab of maxLen bytes. node is a NUMA
// hint; the Go allocator gives no placement control, so it only
// documents intent and keeps call sites aligned with the worker's node.
func Alloc(maxLen int, node int) *Buffer {
	_ = node
	b := &Buffer{
		data:    mcache.Malloc(maxLen, maxLen),
		dataref: &atomix.Int32{},
	}
	b.users.Store(1)
	b.dataref.Store(1)
	return b
}

// Fill prepares the buffer for transmission: binds the device and
// queue mapping, sets the packet length to min(pktLen, slab) and
// copies at least MinCopyLen bytes so short frames carry the Ethernet
// minimum. payload may be longer than the wanted packet when the caller
// hands over the padded copy region.
func (b *Buffer) Fill(dev interfaces.Driver, hwQueue int, payload []byte, pktLen int) {
	if pktLen > len(b.data) {
		pktLen = len(b.data)
	}
	b.dev = dev
	b.mapping = hwQueue
	b.length = pktLen

	n := pktLen
	if n < constants.MinCopyLen {
		n = constants.MinCopyLen
	}
	if n > len(payload) {
		n = len(payload)
	}
	if n > len(b.data) {
		n = len(b.data)
	}
	copy(b.data[:n], payload[:n])
}

// Bytes returns the live frame.
func (b *Buffer) Bytes() []byte { return b.data[:b.length] }

// Len returns the current packet length.
func (b *Buffer) Len() int { return b.length }

// Device returns the bound driver, nil before Fill.
func (b *Buffer) Device() interfaces.Driver { return b.dev }

// QueueMapping returns the recorded TX queue.
func (b *Buffer) QueueMapping() int { return b.mapping }

// SetQueueMapping records the TX queue the buffer should go out on.
func (b *Buffer) SetQueueMapping(hwQueue int) { b.mapping = hwQueue }

// Users returns the current reference count.
func (b *Buffer) Users() int32 { return b.users.LoadRelaxed() }

// Get takes an extra reference and returns the same buffer.
func (b *Buffer) Get() *Buffer {
	b.users.Add(1)
	return b
}

// Clone returns a buffer sharing the payload slab, with its own header
// state and a fresh reference count. The slab stays alive until the
// last sharer drops it.
func (b *Buffer) Clone() *Buffer {
	b.dataref.Add(1)
	c := &Buffer{
		data:    b.data,
		length:  b.length,
		dev:     b.dev,
		mapping: b.mapping,
		dataref: b.dataref,
	}
	c.users.Store(1)
	return c
}

// Free drops one reference. When the last holder of the last sharer
// goes away the slab is released. Returns true when this call released
// the slab, so the caller can account the allocator-path free.
func (b *Buffer) Free() bool {
	if b.users.Add(-1) != 0 {
		return false
	}
	if b.dataref.Add(-1) != 0 {
		return false
	}
	mcache.Free(b.data)
	b.data = nil
	return true
}
