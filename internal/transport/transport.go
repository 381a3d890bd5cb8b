// Package transport defines the contract the message engine assumes
// of the underlying reliable tag-matched transport: tagged send/recv,
// non-blocking tagged probe, cooperative progress, and connection
// endpoints. The real-world analog is a library like UCX; this
// package defines the Go-shaped interface and ships two concrete,
// pure-Go implementations (loopback, tcptag) so the engine can be
// exercised end to end without any such library being linked in.
//
// Every operation is submit-then-poll: SendTagged/RecvTagged return a
// Request immediately, and the caller drives completion by calling
// Progress and checking the Request's status, rather than blocking
// inside the call.
package transport

import "errors"

// ErrRingFull reports that a Worker cannot accept another outstanding
// submission. Neither loopback nor tcptag returns it, and the message
// engine treats any submission error as a terminal transport error
// without retrying.
var ErrRingFull = errors.New("transport: submission queue full")

// CompletionStatus is the tri-state outcome of a Request, mirroring
// the request handle's own tri-state status one layer up.
type CompletionStatus int

const (
	InProgress CompletionStatus = iota
	Complete
	Failed
)

// Request is a single outstanding send or receive submission. Status
// is polled by Progress-driven callers; it never reverts once it has
// left InProgress.
type Request interface {
	// Status reports the current completion state. When Failed, err
	// carries the transport's own diagnostic string.
	Status() (CompletionStatus, error)

	// Release frees any transport-side resources associated with the
	// request. Safe to call exactly once, after a terminal status.
	Release()
}

// ProbeResult is the outcome of a non-blocking tagged probe.
type ProbeResult struct {
	Matched    bool
	Size       int64
	MatchedTag uint64
}

// Address is an opaque, transport-specific endpoint address, exactly
// the kind of blob a bootstrap put/get exchanges between peers at
// startup.
type Address []byte

// Endpoint is a transport-level handle to one specific peer.
type Endpoint interface {
	// SendTagged submits a vectored send of iov under wire tag tag.
	// iov may be a single entry (the contiguous fast path) or many
	// (packed prefix followed by memory regions, in order).
	SendTagged(tag uint64, iov [][]byte) (Request, error)

	// RecvTagged submits a vectored receive matching (tag & mask).
	RecvTagged(tag, mask uint64, iov [][]byte) (Request, error)

	// Close force-closes the endpoint. There is no flush path: flush
	// has been observed to hang the underlying worker, so teardown
	// only ever force-closes.
	Close() error
}

// Worker is the transport's per-process progress context. There is
// exactly one Worker per Context.
type Worker interface {
	// LocalAddress returns the address to publish via the bootstrap
	// so peers can dial this worker.
	LocalAddress() Address

	// Connect creates an Endpoint to the peer published at addr. A
	// worker may connect to its own LocalAddress to form a
	// self-loopback endpoint; this must not be special-cased by
	// callers.
	Connect(addr Address) (Endpoint, error)

	// ProbeTagged performs a non-blocking tagged probe across all
	// connected endpoints, matching (tag & mask) against pending
	// unmatched sends.
	ProbeTagged(tag, mask uint64) (ProbeResult, error)

	// Progress drives the transport once: advances in-flight
	// submissions and invokes completion bookkeeping. It returns true
	// if any request advanced, a hint callers may use to decide
	// whether to yield the CPU.
	Progress() bool

	// Close tears down the worker. Any endpoints created from it must
	// be closed first.
	Close() error
}
