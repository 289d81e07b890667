// Package pfq implements the transmit core of a packet capture and
// injection subsystem: timestamped packet descriptors written into a
// double-buffered shared ring are drained by a pinned worker, paced
// against their timestamps, and pushed in batches into a network
// device driver, with buffers recycled through lock-free per-CPU
// pools.
//
// The usual shape:
//
//	stack := pfq.NewStack(pfq.DefaultStackConfig())
//	stack.Register(driver)
//
//	sock, _ := stack.NewSocket(pfq.SocketConfig{TxQueues: 1})
//	sock.BindTx(0, driver.IfIndex(), pfq.AnyQueue)
//	sock.StartTxWorker(ctx, 0, 2)
//
//	w := sock.Writer(0)
//	w.Write(0, frame)
//	w.Commit()
//
// Without a worker, sock.Flush drains synchronously on the caller.
package pfq
