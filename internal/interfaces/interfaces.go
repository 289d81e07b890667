// Package interfaces provides internal interface definitions for go-pfq.
// These are separate from the public interfaces to avoid circular imports
// between the main package and internal packages.
package interfaces

// TxStatus is the result of handing one frame to a driver.
type TxStatus int

const (
	// TxOK means the driver accepted the frame and owns it now.
	TxOK TxStatus = iota

	// TxBusy means the driver could not take the frame; the queue is
	// congested and the caller keeps ownership.
	TxBusy
)

// Driver is what a network device driver exposes to the TX core.
// StartXmit is called with the per-queue lock held; implementations may
// block briefly but must not call back into the engine.
type Driver interface {
	// Name returns the interface name (e.g. "eth0").
	Name() string

	// IfIndex returns the interface index used for registry lookups.
	IfIndex() int

	// IsUp reports whether the device is administratively up.
	IsUp() bool

	// NumTxQueues returns the number of hardware TX queues.
	NumTxQueues() int

	// SelectQueue picks a TX queue for a frame when the caller passed
	// the any-queue sentinel. The result is clamped by the core.
	SelectQueue(frame []byte) int

	// StartXmit submits one frame on the given queue. The more hint
	// tells the driver another frame follows immediately, letting it
	// defer doorbell writes; the last frame of a batch clears it.
	StartXmit(frame []byte, hwQueue int, more bool) TxStatus
}

// GiveUp is the cooperative cancellation predicate. It is evaluated on
// every spin iteration of the TX hot paths; returning true makes waits
// return immediately with whatever progress was already made. It stands
// in for the pending-signal and worker-stop checks of a kernel thread.
type GiveUp func() bool

// Never is the GiveUp used where cancellation does not apply.
func Never() bool { return false }

// Logger interface for optional logging.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer interface for drain-level observation.
// Implementations must be thread-safe; methods are called from worker
// threads, outside the per-packet hot path.
type Observer interface {
	// ObserveDrain is called once per completed drain pass.
	ObserveDrain(sent, discarded uint64, interrupted bool)

	// ObserveCommit is called once per lazy-forward commit.
	ObserveCommit(targets int, sent, aborted uint64)
}
