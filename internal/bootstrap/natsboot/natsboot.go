// Package natsboot is a cross-process bootstrap.Bootstrap backed by a
// NATS server: Put serves a rank's published values over request/
// reply, Get asks the owning rank directly, and Fence counts
// publish-and-wait acknowledgements on a per-generation subject. A
// single reconnecting NATS connection backs all three operations.
package natsboot

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Bootstrap exchanges keys over a NATS connection shared by every
// rank. subjectPrefix should be unique per run (e.g. a job id) so
// concurrent runs against the same NATS server don't collide.
type Bootstrap struct {
	conn   *nats.Conn
	prefix string
	rank   int
	size   int

	mu    sync.Mutex
	store map[string][]byte
	sub   *nats.Subscription

	fenceGen int
}

// New connects to addr and registers rank's request handler for its
// own published keys.
func New(addr, subjectPrefix string, rank, size int) (*Bootstrap, error) {
	conn, err := nats.Connect(addr)
	if err != nil {
		return nil, fmt.Errorf("natsboot: connect %s: %w", addr, err)
	}
	b := &Bootstrap{conn: conn, prefix: subjectPrefix, rank: rank, size: size, store: make(map[string][]byte)}

	reqSubject := fmt.Sprintf("%s.get.%d", subjectPrefix, rank)
	sub, err := conn.Subscribe(reqSubject, func(msg *nats.Msg) {
		b.mu.Lock()
		v, ok := b.store[string(msg.Data)]
		b.mu.Unlock()
		if !ok {
			msg.Respond(nil)
			return
		}
		msg.Respond(v)
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("natsboot: subscribe %s: %w", reqSubject, err)
	}
	b.sub = sub
	return b, nil
}

func (b *Bootstrap) Rank() int { return b.rank }
func (b *Bootstrap) Size() int { return b.size }

// Put registers value locally; it becomes visible to Get callers once
// this rank's request handler can answer for it (immediately, since
// the handler reads the same map under lock).
func (b *Bootstrap) Put(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	b.store[key] = cp
	return nil
}

// Get requests key from rank over NATS request/reply.
func (b *Bootstrap) Get(rank int, key string) ([]byte, error) {
	subject := fmt.Sprintf("%s.get.%d", b.prefix, rank)
	msg, err := b.conn.Request(subject, []byte(key), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("natsboot: request %s: %w", subject, err)
	}
	if len(msg.Data) == 0 {
		return nil, fmt.Errorf("natsboot: rank %d has no value for key %q", rank, key)
	}
	return msg.Data, nil
}

// Fence publishes an arrival on a per-generation subject and blocks
// until size distinct arrivals have been observed, then advances the
// generation.
func (b *Bootstrap) Fence() error {
	gen := b.fenceGen
	subject := fmt.Sprintf("%s.fence.%d", b.prefix, gen)

	seen := make(map[int]bool)
	var mu sync.Mutex
	done := make(chan struct{})

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		var rank int
		fmt.Sscanf(string(msg.Data), "%d", &rank)
		if !seen[rank] {
			seen[rank] = true
			if len(seen) == b.size {
				close(done)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("natsboot: subscribe fence: %w", err)
	}
	defer sub.Unsubscribe()

	if err := b.conn.Publish(subject, []byte(fmt.Sprintf("%d", b.rank))); err != nil {
		return fmt.Errorf("natsboot: publish fence: %w", err)
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("natsboot: flush fence: %w", err)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("natsboot: fence generation %d timed out", gen)
	}
	b.fenceGen++
	return nil
}

func (b *Bootstrap) Finalize() error {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	b.conn.Close()
	return nil
}
