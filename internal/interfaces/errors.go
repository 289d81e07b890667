package interfaces

import "errors"

// Sentinel errors shared by the internal packages. The root package
// wraps these with operation context; hot paths compare with errors.Is.
var (
	// ErrInterrupted reports a cooperative cancellation: a drain or
	// spin-wait observed the give-up predicate. It is a normal partial
	// completion, not a failure.
	ErrInterrupted = errors.New("pfq: interrupted")

	// ErrDeviceDown reports that a frame could not be submitted because
	// the device was administratively down or its queue flow-stopped.
	ErrDeviceDown = errors.New("pfq: device down")

	// ErrNoDevice reports a flush against an interface index with no
	// registered device.
	ErrNoDevice = errors.New("pfq: no such device")

	// ErrNoMemory reports a buffer allocation failure. The drain never
	// surfaces it to callers; it truncates and shows up in counters.
	ErrNoMemory = errors.New("pfq: out of memory")
)
