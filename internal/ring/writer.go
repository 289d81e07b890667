package ring

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/pfq-io/go-pfq/internal/constants"
)

// Writer is the producer side of a ring: it fills the half the engine
// is not draining and commits it with a release store of the producer
// stamp. One writer per ring; the swap protocol assumes a single
// producer.
type Writer struct {
	r   *Ring
	seq uint64 // halves committed so far; parity selects the fill half
	off int
	n   int
}

// Writer returns the producer handle for the ring.
func (r *Ring) Writer() *Writer {
	return &Writer{r: r}
}

// Ready reports whether the engine has caught up with the last
// committed half, so the producer may fill and commit the next one.
// The consumer stamp runs ahead of the producer stamp while the worker
// is parked in its swap spin, hence >= rather than equality. Only
// meaningful with a ring-owning worker; the synchronous flush path
// alternates halves by construction.
func (w *Writer) Ready() bool {
	return atomic.LoadUint64(w.r.word(consOff)) >= atomic.LoadUint64(w.r.word(prodOff))
}

// Write appends one descriptor with the given timestamp and payload to
// the fill half. Returns false when the half has no room for it (the
// producer then commits and retries into the next half).
func (w *Writer) Write(nsec uint64, payload []byte) bool {
	need := constants.DescHdrSize + int(alignLen(uint64(len(payload))))
	half := w.r.half(w.seq)
	if w.off+need > len(half) {
		return false
	}
	binary.LittleEndian.PutUint64(half[w.off:], nsec)
	binary.LittleEndian.PutUint64(half[w.off+8:], uint64(len(payload)))
	copy(half[w.off+constants.DescHdrSize:], payload)
	w.off += need
	w.n++
	return true
}

// Pending returns the number of descriptors written since the last
// commit.
func (w *Writer) Pending() int { return w.n }

// Commit terminates the live region in-band, publishes the half with a
// release store of the producer stamp, and moves the writer to the
// other half. The engine's spin in Swap completes once the store
// lands.
func (w *Writer) Commit() {
	half := w.r.half(w.seq)
	if w.off+constants.DescHdrSize <= len(half) {
		binary.LittleEndian.PutUint64(half[w.off+8:], 0)
	}
	w.seq++
	atomic.StoreUint64(w.r.word(prodOff), w.seq)
	w.off = 0
	w.n = 0
}
