package clock

import (
	"testing"
	"time"

	"github.com/pfq-io/go-pfq/internal/interfaces"
)

func TestNowAdvances(t *testing.T) {
	a := Now()
	time.Sleep(time.Millisecond)
	b := Now()
	if b <= a {
		t.Fatalf("clock did not advance: %d then %d", a, b)
	}
}

func TestWaitUntilReachesTarget(t *testing.T) {
	target := Now() + (5 * time.Millisecond).Nanoseconds()
	got := WaitUntil(target, interfaces.Never)
	if got < target {
		t.Fatalf("returned clock %d before target %d", got, target)
	}
}

func TestWaitUntilPastTimestamp(t *testing.T) {
	target := Now() - time.Second.Nanoseconds()
	start := time.Now()
	WaitUntil(target, interfaces.Never)
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("wait on a past timestamp took %v", elapsed)
	}
}

func TestWaitUntilGiveUp(t *testing.T) {
	// A target an hour out: only the give-up can end this.
	target := Now() + time.Hour.Nanoseconds()

	calls := 0
	giveUp := func() bool {
		calls++
		return calls >= 3
	}

	start := time.Now()
	got := WaitUntil(target, giveUp)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("give-up honored only after %v", elapsed)
	}
	if got >= target {
		t.Fatalf("returned clock reached the target despite give-up")
	}
	if calls != 3 {
		t.Fatalf("give-up evaluated %d times, want once per iteration", calls)
	}
}
