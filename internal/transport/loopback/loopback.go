// Package loopback is an in-process transport.Worker implementation:
// every rank's worker lives in the same address space and exchanges
// messages through shared, mutex-guarded queues rather than a real
// socket or RDMA fabric. It is the default transport for tests and
// for the self-communication path, and the only one capable of
// representing a self-endpoint without also standing up a listener.
package loopback

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/behrlich/mpigo/internal/transport"
)

// Network is the shared registry a set of loopback workers dial
// through. One Network corresponds to one process's worth of ranks in
// a test; production deployments never use loopback across processes.
type Network struct {
	mu      sync.Mutex
	next    int
	workers map[string]*Worker
}

// NewNetwork creates an empty loopback network.
func NewNetwork() *Network {
	return &Network{workers: make(map[string]*Worker)}
}

// NewWorker registers and returns a new worker on this network.
func (n *Network) NewWorker() *Worker {
	n.mu.Lock()
	defer n.mu.Unlock()
	addr := strconv.Itoa(n.next)
	n.next++
	w := &Worker{net: n, addr: transport.Address(addr)}
	n.workers[addr] = w
	return w
}

func (n *Network) lookup(addr transport.Address) (*Worker, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.workers[string(addr)]
	return w, ok
}

// Worker is a loopback transport.Worker.
type Worker struct {
	net  *Network
	addr transport.Address

	mu       sync.Mutex
	posted   []*recvSlot // receives waiting for a matching send
	pending  []*sendMsg  // sends that have arrived but not yet matched
}

type sendMsg struct {
	tag     uint64
	payload []byte
	req     *request
}

type recvSlot struct {
	tag  uint64
	mask uint64
	iov  [][]byte
	req  *request
}

var _ transport.Worker = (*Worker)(nil)

func (w *Worker) LocalAddress() transport.Address { return w.addr }

// Connect returns an Endpoint to the peer published at addr,
// including when addr is this worker's own address (self-loopback).
func (w *Worker) Connect(addr transport.Address) (transport.Endpoint, error) {
	peer, ok := w.net.lookup(addr)
	if !ok {
		return nil, fmt.Errorf("loopback: no worker registered at address %q", string(addr))
	}
	return &endpoint{local: w, peer: peer}, nil
}

func (w *Worker) ProbeTagged(tag, mask uint64) (transport.ProbeResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.pending {
		if m.tag&mask == tag&mask {
			return transport.ProbeResult{Matched: true, Size: int64(len(m.payload)), MatchedTag: m.tag}, nil
		}
	}
	return transport.ProbeResult{}, nil
}

// Progress attempts to match every posted receive against every
// pending (arrived but unmatched) send, copying payload into the
// receive's iovec and completing the receive on a match (a queued
// send's own request is already complete).
func (w *Worker) Progress() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	advanced := false
	remainingPosted := w.posted[:0]
	for _, r := range w.posted {
		idx := -1
		for i, m := range w.pending {
			if m.tag&r.mask == r.tag&r.mask {
				idx = i
				break
			}
		}
		if idx < 0 {
			remainingPosted = append(remainingPosted, r)
			continue
		}
		m := w.pending[idx]
		w.pending = append(w.pending[:idx], w.pending[idx+1:]...)
		scatter(m.payload, r.iov)
		r.req.complete(nil)
		m.req.complete(nil)
		advanced = true
	}
	w.posted = remainingPosted
	return advanced
}

func (w *Worker) Close() error { return nil }

func (w *Worker) deliver(tag uint64, payload []byte, req *request) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, r := range w.posted {
		if tag&r.mask == r.tag&r.mask {
			w.posted = append(w.posted[:i], w.posted[i+1:]...)
			scatter(payload, r.iov)
			r.req.complete(nil)
			req.complete(nil)
			return
		}
	}
	w.pending = append(w.pending, &sendMsg{tag: tag, payload: payload, req: req})
	// payload is already a private copy of the sender's iovec, so the
	// send completes as soon as it is queued.
	req.complete(nil)
}

func (w *Worker) post(tag, mask uint64, iov [][]byte, req *request) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, m := range w.pending {
		if m.tag&mask == tag&mask {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			scatter(m.payload, iov)
			req.complete(nil)
			m.req.complete(nil)
			return
		}
	}
	w.posted = append(w.posted, &recvSlot{tag: tag, mask: mask, iov: iov, req: req})
}

// scatter copies a concatenated payload into dst in order, mirroring
// the wire contract: packed prefix first, then regions in enumeration
// order.
func scatter(payload []byte, dst [][]byte) {
	off := 0
	for _, d := range dst {
		n := copy(d, payload[off:])
		off += n
	}
}

func gather(src [][]byte) []byte {
	total := 0
	for _, s := range src {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range src {
		buf = append(buf, s...)
	}
	return buf
}

type endpoint struct {
	local *Worker
	peer  *Worker
}

var _ transport.Endpoint = (*endpoint)(nil)

func (e *endpoint) SendTagged(tag uint64, iov [][]byte) (transport.Request, error) {
	req := newRequest()
	e.peer.deliver(tag, gather(iov), req)
	return req, nil
}

func (e *endpoint) RecvTagged(tag, mask uint64, iov [][]byte) (transport.Request, error) {
	req := newRequest()
	e.local.post(tag, mask, iov, req)
	return req, nil
}

func (e *endpoint) Close() error { return nil }

type request struct {
	mu     sync.Mutex
	status transport.CompletionStatus
	err    error
}

func newRequest() *request {
	return &request{status: transport.InProgress}
}

func (r *request) complete(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != transport.InProgress {
		return
	}
	if err != nil {
		r.status = transport.Failed
		r.err = err
	} else {
		r.status = transport.Complete
	}
}

func (r *request) Status() (transport.CompletionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.err
}

func (r *request) Release() {}
