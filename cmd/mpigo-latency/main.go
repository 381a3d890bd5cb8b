// Command mpigo-latency measures point-to-point round-trip latency
// between two ranks of an mpigo World group, launched as two separate
// OS processes coordinated via fileboot (see internal/bench.InitFromEnv).
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
		maxSize    = flag.Int("max-size", 1<<17, "largest message size in bytes")
		iterations = flag.Int("iterations", 100, "measured iterations per size")
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
		logger.Error("mpigo-latency requires exactly 2 ranks", "size", ctx.Size())
		os.Exit(1)
	}

	opts := bench.LatencyOptions{
		MinSize:          *minSize,
		MaxSize:          *maxSize,
		Iterations:       *iterations,
		Skip:             *skip,
		WarmupValidation: 0,
	}
	b := &benchmark{ctx: ctx, rank: ctx.Rank(), logger: logger}
	results := bench.Latency(opts, b)

	if ctx.Rank() == 0 {
		fmt.Println("# size latency_us")
		for _, r := range results {
			fmt.Printf("%d %f\n", r.Size, r.Microsecs)
		}
	}
}

// benchmark exchanges one size-byte buffer each way per iteration: on
// rank 0, a send immediately followed by a receive of the mirrored
// buffer back from rank 1; rank 1 mirrors the same pair in the
// opposite order, so both ranks enter their own Waitall together.
type benchmark struct {
	ctx    *mpigo.Context
	rank   int
	logger *logging.Logger

	sbuf []byte
	rbuf []byte
}

func (b *benchmark) fatal(err error) {
	b.logger.Error("benchmark transfer failed", "error", err)
	os.Exit(1)
}

func (b *benchmark) Init(size int) {
	b.sbuf = make([]byte, size)
	b.rbuf = make([]byte, size)
	for i := range b.sbuf {
		b.sbuf[i] = byte(i)
	}
}

func (b *benchmark) Body() {
	if b.rank == 0 {
		sreq, err := b.ctx.Isend(1, mpigo.ByteBuffer{Data: b.sbuf}, 0)
		if err != nil {
			b.fatal(err)
		}
		rreq, err := b.ctx.Irecv(1, mpigo.ByteBuffer{Data: b.rbuf}, 0)
		if err != nil {
			b.fatal(err)
		}
		b.ctx.Waitall([]mpigo.Request{sreq, rreq})
	} else {
		rreq, err := b.ctx.Irecv(0, mpigo.ByteBuffer{Data: b.rbuf}, 0)
		if err != nil {
			b.fatal(err)
		}
		sreq, err := b.ctx.Isend(0, mpigo.ByteBuffer{Data: b.sbuf}, 0)
		if err != nil {
			b.fatal(err)
		}
		b.ctx.Waitall([]mpigo.Request{sreq, rreq})
	}
}
