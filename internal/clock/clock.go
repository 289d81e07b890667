// Package clock provides the wall-clock read and the cooperative
// spin-wait the pacing path is built on. Sub-microsecond pacing at
// line rate rules out sleeping; callers run on a pinned worker thread
// and relax the CPU between polls.
package clock

import (
	"time"

	"code.hybscloud.com/spin"

	"github.com/pfq-io/go-pfq/internal/interfaces"
)

// Now returns the wall clock in nanoseconds.
func Now() int64 {
	return time.Now().UnixNano()
}

// WaitUntil spins until the clock reaches ts or giveUp fires, and
// returns the last observed clock. The give-up predicate is evaluated
// on every iteration, so a stop request breaks the wait within one
// poll regardless of how far away ts is.
func WaitUntil(ts int64, giveUp interfaces.GiveUp) int64 {
	sw := spin.Wait{}
	for {
		now := time.Now().UnixNano()
		if giveUp() {
			return now
		}
		if now >= ts {
			return now
		}
		sw.Once()
	}
}
