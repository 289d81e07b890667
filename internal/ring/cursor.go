package ring

import (
	"encoding/binary"

	"github.com/pfq-io/go-pfq/internal/constants"
)

// Desc is one descriptor as seen by the engine during traversal.
type Desc struct {
	Nsec uint64 // target transmission time, 0 = immediately
	Len  uint64 // payload length
	off  int
}

// Cursor walks the live descriptors of a drained half. Traversal
// terminates on the in-band len == 0, on running out of half, or on a
// header whose length is implausible (the producer is trusted only up
// to the configured ceiling).
type Cursor struct {
	r    *Ring
	half []byte
	off  int
}

// Cursor positions a cursor at the base of the drain half selected by
// swap.
func (r *Ring) Cursor(swap uint64) Cursor {
	return Cursor{r: r, half: r.half(swap)}
}

// Header reads the descriptor at the cursor. ok is false at the end of
// the live region.
func (c *Cursor) Header() (Desc, bool) {
	if c.off < 0 || c.off+constants.DescHdrSize > len(c.half) {
		return Desc{}, false
	}
	d := Desc{
		Nsec: binary.LittleEndian.Uint64(c.half[c.off:]),
		Len:  binary.LittleEndian.Uint64(c.half[c.off+8:]),
		off:  c.off,
	}
	if d.Len == 0 {
		return Desc{}, false
	}
	if d.Len > c.r.maxLen {
		if c.r.log != nil && c.r.log.Allow() {
			c.r.log.Errorf("ring: bad descriptor len %d at offset %d", d.Len, c.off)
		}
		return Desc{}, false
	}
	return d, true
}

// Payload returns the inline payload of d, clamped to the half.
func (c *Cursor) Payload(d Desc) []byte {
	start := d.off + constants.DescHdrSize
	n := int(d.Len)
	if start+n > len(c.half) {
		n = len(c.half) - start
	}
	return c.half[start : start+n]
}

// PaddedPayload returns at least min bytes of copy region, so short
// packets can be padded to the Ethernet minimum straight from the
// ring. Clamped to the half like Payload.
func (c *Cursor) PaddedPayload(d Desc, min int) []byte {
	start := d.off + constants.DescHdrSize
	n := int(d.Len)
	if n < min {
		n = min
	}
	if start+n > len(c.half) {
		n = len(c.half) - start
	}
	return c.half[start : start+n]
}

// Advance moves past d to the next 8-byte aligned header.
func (c *Cursor) Advance(d Desc) {
	c.off = d.off + constants.DescHdrSize + int(alignLen(d.Len))
}
