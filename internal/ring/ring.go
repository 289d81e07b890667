// Package ring implements the double-buffered TX ring shared between a
// user-space producer and the drain engine.
//
// The memory layout is part of the user-visible contract: a cache-line
// aligned header holding the prod, cons and size words, followed by two
// halves of size bytes each. Descriptors are 8-byte aligned records of
// {u64 nsec, u64 len} followed by the inline payload; len == 0
// terminates the live region of a half in-band.
//
// At any moment the parity of the consumer stamp selects the half the
// engine drains; the other half is writable by the producer. The two
// stamps are the only cross-thread data: everything inside the active
// half is single-owner for the duration of its residency.
package ring

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/spin"
	"golang.org/x/sys/unix"

	"github.com/pfq-io/go-pfq/internal/constants"
	"github.com/pfq-io/go-pfq/internal/interfaces"
	"github.com/pfq-io/go-pfq/internal/logging"
)

const (
	prodOff = 0
	consOff = 8
	sizeOff = 16
)

// Ring is one TX ring. The engine side uses Swap, Cursor and Clear;
// the producer side goes through Writer.
type Ring struct {
	mem    []byte
	size   uint64
	maxLen uint64
	log    *logging.Logger
	mapped bool
}

// New maps an anonymous shared region for a ring whose halves are size
// bytes each. size is rounded up to descriptor alignment and must hold
// at least one maximum-length descriptor.
func New(size int, log *logging.Logger) (*Ring, error) {
	size = align(size)
	if size < constants.DescHdrSize+constants.MaxLen {
		return nil, fmt.Errorf("ring: half size %d too small", size)
	}
	mem, err := unix.Mmap(-1, 0, constants.RingHdrSize+2*size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("ring: mmap: %w", err)
	}
	r := &Ring{
		mem:    mem,
		size:   uint64(size),
		maxLen: constants.MaxLen,
		log:    log,
		mapped: true,
	}
	binary.LittleEndian.PutUint64(mem[sizeOff:], r.size)
	return r, nil
}

// Attach wraps an externally provided ring region, taking the half
// size from the header. The region must be 8-byte aligned.
func Attach(mem []byte, log *logging.Logger) (*Ring, error) {
	if len(mem) < constants.RingHdrSize {
		return nil, fmt.Errorf("ring: region too small: %d", len(mem))
	}
	size := binary.LittleEndian.Uint64(mem[sizeOff:])
	if size == 0 || uint64(len(mem)) < constants.RingHdrSize+2*size {
		return nil, fmt.Errorf("ring: bad size word %d for region of %d", size, len(mem))
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, fmt.Errorf("ring: region not 8-byte aligned")
	}
	return &Ring{
		mem:    mem,
		size:   size,
		maxLen: constants.MaxLen,
		log:    log,
	}, nil
}

// Close unmaps the region when New created it.
func (r *Ring) Close() error {
	if !r.mapped {
		return nil
	}
	mem := r.mem
	r.mem = nil
	r.mapped = false
	return unix.Munmap(mem)
}

// Size returns the half size in bytes.
func (r *Ring) Size() uint64 { return r.size }

func align(n int) int {
	return (n + constants.DescAlign - 1) &^ (constants.DescAlign - 1)
}

func alignLen(n uint64) uint64 {
	return (n + constants.DescAlign - 1) &^ uint64(constants.DescAlign-1)
}

// The stamps live at fixed offsets of a mapped region, so they are
// read through pointer casts the way a mapped descriptor array is.
func (r *Ring) word(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.mem[off]))
}

// Prod returns the producer stamp.
func (r *Ring) Prod() uint64 { return atomic.LoadUint64(r.word(prodOff)) }

// Cons returns the consumer stamp.
func (r *Ring) Cons() uint64 { return atomic.LoadUint64(r.word(consOff)) }

func (r *Ring) half(parity uint64) []byte {
	base := uint64(constants.RingHdrSize) + (parity&1)*r.size
	return r.mem[base : base+r.size]
}

// Swap advances the consumer stamp and selects the half to drain.
//
// With a ring-owning worker it spins until the producer stamp catches
// up, honoring giveUp on every iteration. In standalone mode (a flush
// on an arbitrary task) it short-circuits: the producer is assumed to
// have committed already and the stamp is forced.
//
// The returned swap value selects the drain half by parity and is the
// token Cursor and Clear take. Interrupted swaps do not roll the stamp
// back; the next drain resumes at the same half once the producer
// commits.
func (r *Ring) Swap(worker bool, giveUp interfaces.GiveUp) (uint64, error) {
	idx := atomic.AddUint64(r.word(consOff), 1)
	if worker {
		sw := spin.Wait{}
		for idx != atomic.LoadUint64(r.word(prodOff)) {
			sw.Once()
			if giveUp() {
				return 0, interfaces.ErrInterrupted
			}
		}
	} else {
		atomic.StoreUint64(r.word(prodOff), 1)
	}
	return idx + 1, nil
}

// Clear writes the in-band terminator at the base of the drained half.
func (r *Ring) Clear(swap uint64) {
	half := r.half(swap)
	binary.LittleEndian.PutUint64(half[8:], 0)
}
