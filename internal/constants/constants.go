package constants

// Packet and descriptor limits
const (
	// MaxLen is the ceiling for a single packet payload in bytes.
	// Covers an Ethernet MTU frame plus encapsulation overhead.
	MaxLen = 2048

	// MinCopyLen is the minimum number of bytes copied into a fresh
	// buffer. Short packets are padded up to the Ethernet minimum frame.
	MinCopyLen = 64

	// DescHdrSize is the fixed size of a TX descriptor header:
	// a u64 nanosecond timestamp followed by a u64 payload length.
	DescHdrSize = 16

	// DescAlign is the alignment of descriptors inside a ring half.
	// Payloads are padded so the next header starts 8-byte aligned.
	DescAlign = 8
)

// Batching
const (
	// BatchLen is the capacity of the in-stack submission batch.
	// One batch is the unit of work done under a single TX queue lock.
	BatchLen = 64

	// FwdLogLen is the capacity of a buffer's lazy-forward device log.
	FwdLogLen = 16
)

// TX ring geometry
const (
	// RingHdrSize is the size of the cache-line aligned ring header
	// holding the prod, cons and size words.
	RingHdrSize = 64

	// DefaultRingSize is the default size of one ring half in bytes.
	DefaultRingSize = 64 * 1024
)

// Scheduling
const (
	// NoKthread marks a drain running on the caller's thread rather
	// than on a ring-owning worker. It disables the producer spin in
	// the swap protocol and routes counter updates through the shared
	// accumulation path.
	NoKthread = -1
)

// Pool defaults
const (
	// DefaultPoolSize is the default capacity of a per-worker buffer
	// recycle ring. Zero disables recycling entirely.
	DefaultPoolSize = 1024
)
