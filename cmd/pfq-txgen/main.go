// pfq-txgen fills a TX ring with paced packet descriptors and drains
// it through a device driver, printing the counter snapshot at the
// end. With the default mem driver it is a self-contained simulation;
// with -driver afpacket it transmits on a real interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/gopkg/lang/dirtmake"

	pfq "github.com/pfq-io/go-pfq"
	"github.com/pfq-io/go-pfq/driver"
	"github.com/pfq-io/go-pfq/internal/logging"
)

func main() {
	var (
		drvName = flag.String("driver", "mem", "Device driver: mem or afpacket")
		ifname  = flag.String("ifname", "lo", "Interface name (afpacket driver)")
		count   = flag.Int("count", 10000, "Packets to generate")
		size    = flag.Int("len", 64, "Packet length in bytes")
		rate    = flag.Int("rate", 0, "Packets per second (0 = unpaced)")
		cpu     = flag.Int("cpu", -1, "Pin the drain worker to this CPU (-1 = unpinned)")
		ringKiB = flag.Int("ring", 64, "Ring half size in KiB")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	var dev pfq.Driver
	switch *drvName {
	case "mem":
		dev = driver.NewMem("mem0", 1, 1, 0)
	case "afpacket":
		ap, err := driver.NewAFPacket(*ifname, 1)
		if err != nil {
			log.Fatalf("open %s: %v", *ifname, err)
		}
		defer ap.Close()
		dev = ap
	default:
		log.Fatalf("unknown driver %q", *drvName)
	}

	stack := pfq.NewStack(pfq.StackConfig{Logger: logger})
	defer stack.Close()
	stack.Register(dev)

	sock, err := stack.NewSocket(pfq.SocketConfig{
		TxQueues: 1,
		RingSize: *ringKiB * 1024,
	})
	if err != nil {
		logger.Error("create socket", "error", err)
		os.Exit(1)
	}
	defer sock.Close()

	if err := sock.BindTx(0, dev.IfIndex(), pfq.AnyQueue); err != nil {
		logger.Error("bind tx ring", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if err := sock.StartTxWorker(ctx, 0, *cpu); err != nil {
		logger.Error("start worker", "error", err)
		os.Exit(1)
	}

	var interval time.Duration
	if *rate > 0 {
		interval = time.Second / time.Duration(*rate)
	}

	payload := dirtmake.Bytes(*size, *size)
	for i := range payload {
		payload[i] = byte(i)
	}

	logger.Info("generating", "packets", *count, "len", *size, "rate_pps", *rate)
	start := time.Now()

	w := sock.Writer(0)
	next := start
	for i := 0; i < *count; i++ {
		if ctx.Err() != nil {
			break
		}
		var nsec uint64
		if interval > 0 {
			nsec = uint64(next.UnixNano())
			next = next.Add(interval)
		}
		for !w.Write(nsec, payload) {
			// Half full: publish and move to the other one once
			// the worker has caught up.
			commit(ctx, w)
			if ctx.Err() != nil {
				break
			}
		}
	}
	if w.Pending() > 0 {
		commit(ctx, w)
	}

	// Let the worker drain the tail before reading the counters.
	deadline := time.Now().Add(5 * time.Second)
	for {
		c := sock.Counters()
		if c.Sent+c.Disc >= uint64(*count) || time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sock.StopTxWorkers()
	elapsed := time.Since(start)

	c := sock.Counters()
	fmt.Printf("sent:    %d\n", c.Sent)
	fmt.Printf("disc:    %d\n", c.Disc)
	fmt.Printf("abrt:    %d\n", c.Abrt)
	fmt.Printf("os_free: %d\n", c.OsFree)
	fmt.Printf("pool:    push=%d pop=%d free=%d\n", c.Pool.Push, c.Pool.Pop, c.Pool.Free)
	if elapsed > 0 {
		fmt.Printf("rate:    %.0f pps\n", float64(c.Sent)/elapsed.Seconds())
	}
}

// commit publishes the filled half, then waits for the worker to take
// it up: only then is the worker done with the other half, which the
// next writes fill.
func commit(ctx context.Context, w *pfq.TxWriter) {
	w.Commit()
	for !w.Ready() {
		if ctx.Err() != nil {
			return
		}
		time.Sleep(time.Microsecond)
	}
}
