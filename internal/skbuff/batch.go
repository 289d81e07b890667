package skbuff

import "github.com/pfq-io/go-pfq/internal/constants"

// Batch is the fixed-capacity accumulator of buffers awaiting device
// submission. It holds weak references: the owner of the batch keeps
// the owning reference counts. Overflow is a caller bug; the engine
// flushes before every push that could exceed capacity.
type Batch struct {
	bufs [constants.BatchLen]*Buffer
	n    int
}

// Push appends a buffer. Returns false when the batch is full.
func (b *Batch) Push(buf *Buffer) bool {
	if b.n == len(b.bufs) {
		return false
	}
	b.bufs[b.n] = buf
	b.n++
	return true
}

// Len returns the number of queued buffers.
func (b *Batch) Len() int { return b.n }

// Full reports whether another Push would fail.
func (b *Batch) Full() bool { return b.n == len(b.bufs) }

// At returns the i-th buffer. i must be < Len.
func (b *Batch) At(i int) *Buffer { return b.bufs[i] }

// DropN removes the first n buffers, shifting the rest forward.
func (b *Batch) DropN(n int) {
	if n <= 0 {
		return
	}
	if n > b.n {
		n = b.n
	}
	copy(b.bufs[:], b.bufs[n:b.n])
	for i := b.n - n; i < b.n; i++ {
		b.bufs[i] = nil
	}
	b.n -= n
}

// Clear empties the batch without touching reference counts.
func (b *Batch) Clear() {
	for i := 0; i < b.n; i++ {
		b.bufs[i] = nil
	}
	b.n = 0
}

// Range calls fn for each buffer in order.
func (b *Batch) Range(fn func(i int, buf *Buffer)) {
	for i := 0; i < b.n; i++ {
		fn(i, b.bufs[i])
	}
}

// RangeFrom calls fn for each buffer starting at index k.
func (b *Batch) RangeFrom(k int, fn func(i int, buf *Buffer)) {
	for i := k; i < b.n; i++ {
		fn(i, b.bufs[i])
	}
}

// RangeMask calls fn for each buffer whose index bit is set in mask.
// Indices beyond 63 can never be selected.
func (b *Batch) RangeMask(mask uint64, fn func(i int, buf *Buffer)) {
	for i := 0; i < b.n && i < 64; i++ {
		if mask&(1<<uint(i)) != 0 {
			fn(i, b.bufs[i])
		}
	}
}
