package engine

import (
	"context"
	"errors"
	"runtime"

	"code.hybscloud.com/iox"

	"github.com/pfq-io/go-pfq/internal/interfaces"
	"github.com/pfq-io/go-pfq/internal/netdev"
)

// Worker owns one TX ring and drains it on a pinned OS thread. The
// worker's context is the stop request: cancellation feeds the give-up
// predicate, so a worker parked in a swap spin or a pacing wait breaks
// out within one iteration.
type Worker struct {
	idx  int
	cpu  int
	to   *TxOpt
	dev  *netdev.Device
	eng  *Engine
	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}
}

// StartWorker binds a worker to ring idx and starts draining. cpu is
// both the worker's counter/pool slot and, when valid on this host,
// the CPU the thread is pinned to.
func (e *Engine) StartWorker(ctx context.Context, idx int, to *TxOpt, dev *netdev.Device, cpu int) *Worker {
	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		idx:  idx,
		cpu:  cpu,
		to:   to,
		dev:  dev,
		eng:  e,
		ctx:  ctx,
		stop: cancel,
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Stop requests cancellation and waits for the drain loop to exit.
func (w *Worker) Stop() {
	w.stop()
	<-w.done
}

// CPU returns the worker's slot.
func (w *Worker) CPU() int { return w.cpu }

func (w *Worker) giveUp() bool {
	select {
	case <-w.ctx.Done():
		return true
	default:
		return false
	}
}

func (w *Worker) run() {
	defer close(w.done)

	// The drain spins and paces; it needs a thread of its own.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if w.cpu >= 0 {
		if err := setAffinity(w.cpu); err != nil {
			if w.eng.log != nil {
				w.eng.log.Warnf("tx[%d]: could not pin to CPU %d: %v", w.idx, w.cpu, err)
			}
			// Keep running unpinned.
		} else if w.eng.log != nil {
			w.eng.log.Debugf("tx[%d]: pinned to CPU %d", w.idx, w.cpu)
		}
	}

	backoff := iox.Backoff{}
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		sent, err := w.eng.QueueXmit(w.idx, w.to, w.dev, w.cpu, w.eng.node, w.giveUp)
		if err != nil && errors.Is(err, interfaces.ErrInterrupted) {
			continue
		}
		if sent == 0 {
			backoff.Wait()
		} else {
			backoff.Reset()
		}
	}
}
