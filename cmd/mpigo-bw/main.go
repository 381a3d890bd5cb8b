// Command mpigo-bw measures point-to-point bandwidth between two
// ranks of an mpigo World group, launched as two separate OS
// processes coordinated via fileboot (see internal/bench.InitFromEnv).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/behrlich/mpigo"
	"github.com/behrlich/mpigo/internal/bench"
	"github.com/behrlich/mpigo/internal/logging"
)

func main() {
	var (
		minSize    = flag.Int("min-size", 8, "smallest message size in bytes")
		maxSize    = flag.Int("max-size", 1<<20, "largest message size in bytes")
		window     = flag.Int("window", 64, "number of in-flight messages per measured iteration")
		iterations = flag.Int("iterations", 1024, "measured iterations per size")
		skip       = flag.Int("skip", 10, "warmup iterations discarded before measuring")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	ctx, err := bench.InitFromEnv()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer ctx.Finalize()

	if ctx.Size() != 2 {
		logger.Error("mpigo-bw requires exactly 2 ranks", "size", ctx.Size())
		os.Exit(1)
	}

	opts := bench.BandwidthOptions{
		MinSize:          *minSize,
		MaxSize:          *maxSize,
		WindowSize:       *window,
		Iterations:       *iterations,
		Skip:             *skip,
		WarmupValidation: 0,
	}
	b := &benchmark{ctx: ctx, rank: ctx.Rank(), logger: logger}
	results := bench.Bandwidth(opts, b)

	if ctx.Rank() == 0 {
		fmt.Println("# size bandwidth_mb_s")
		for _, r := range results {
			fmt.Printf("%d %f\n", r.Size, r.MBPerSec)
		}
	}
}

// benchmark ping-pongs window-sized batches of data tagged 0 from
// rank 0 to rank 1, followed by a single 1-byte ack back to rank 0.
type benchmark struct {
	ctx    *mpigo.Context
	rank   int
	logger *logging.Logger

	sendBufs [][]byte
	recvBufs [][]byte
	ackBuf   []byte
}

func (b *benchmark) fatal(err error) {
	b.logger.Error("benchmark transfer failed", "error", err)
	os.Exit(1)
}

func (b *benchmark) Init(windowSize, size int) {
	b.sendBufs = make([][]byte, windowSize)
	b.recvBufs = make([][]byte, windowSize)
	for i := range b.sendBufs {
		b.sendBufs[i] = make([]byte, size)
		b.recvBufs[i] = make([]byte, size)
	}
	b.ackBuf = make([]byte, 1)
}

func (b *benchmark) Body() {
	if b.rank == 0 {
		reqs := make([]mpigo.Request, len(b.sendBufs))
		for i, buf := range b.sendBufs {
			req, err := b.ctx.Isend(1, mpigo.ByteBuffer{Data: buf}, 0)
			if err != nil {
				b.fatal(err)
			}
			reqs[i] = req
		}
		b.ctx.Waitall(reqs)

		ackReq, err := b.ctx.Irecv(1, mpigo.ByteBuffer{Data: b.ackBuf}, 1)
		if err != nil {
			b.fatal(err)
		}
		b.ctx.Waitall([]mpigo.Request{ackReq})
	} else {
		reqs := make([]mpigo.Request, len(b.recvBufs))
		for i, buf := range b.recvBufs {
			req, err := b.ctx.Irecv(0, mpigo.ByteBuffer{Data: buf}, 0)
			if err != nil {
				b.fatal(err)
			}
			reqs[i] = req
		}
		b.ctx.Waitall(reqs)

		ackReq, err := b.ctx.Isend(0, mpigo.ByteBuffer{Data: []byte{1}}, 1)
		if err != nil {
			b.fatal(err)
		}
		b.ctx.Waitall([]mpigo.Request{ackReq})
	}
}
