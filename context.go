package mpigo

import (
	"fmt"
	"time"

	"github.com/behrlich/mpigo/internal/bootstrap"
	"github.com/behrlich/mpigo/internal/logging"
	"github.com/behrlich/mpigo/internal/message"
	"github.com/behrlich/mpigo/internal/metrics"
	"github.com/behrlich/mpigo/internal/packmethod"
	"github.com/behrlich/mpigo/internal/registry"
	"github.com/behrlich/mpigo/internal/tagcodec"
	"github.com/behrlich/mpigo/internal/transport"
)

// AnySource may be passed as the source rank to Irecv or Probe to
// match a send from any peer.
const AnySource = -1

// Context is the process-wide World group: this rank, the total
// size, the endpoint table (one per peer including self), and the
// in-flight message registry (§4.G). None of its methods are safe for
// concurrent use from more than one goroutine.
type Context struct {
	rank int
	size int

	boot   bootstrap.Bootstrap
	worker transport.Worker

	endpoints []transport.Endpoint
	reg       *registry.Registry

	metrics *metrics.Metrics
	logger  *logging.Logger

	pending map[registry.Handle]pendingMeta
}

type pendingMeta struct {
	kind      string // "send" or "recv"
	submitted time.Time
}

// Init brings up the World group: it publishes worker's address under
// the well-known bootstrap key, fences, then resolves every peer's
// address (including this rank's own, for self-communication) and
// connects an endpoint to each.
func Init(boot bootstrap.Bootstrap, worker transport.Worker, cfg Config) (*Context, error) {
	logger := logging.NewLogger(&logging.Config{Level: cfg.resolveLogLevel()})
	logging.SetDefault(logger)

	rank := boot.Rank()
	size := boot.Size()

	if err := boot.Put(bootstrap.AddressKey, []byte(worker.LocalAddress())); err != nil {
		return nil, WrapError("Init", KindInternalError, err)
	}
	if err := boot.Fence(); err != nil {
		return nil, WrapError("Init", KindInternalError, err)
	}

	endpoints := make([]transport.Endpoint, size)
	for peer := 0; peer < size; peer++ {
		addr, err := boot.Get(peer, bootstrap.AddressKey)
		if err != nil {
			return nil, WrapError("Init", KindInternalError, err)
		}
		ep, err := worker.Connect(transport.Address(addr))
		if err != nil {
			return nil, NewTransportError("Init", err.Error())
		}
		endpoints[peer] = ep
	}

	logger.Info("mpigo context initialized", "rank", rank, "size", size)

	return &Context{
		rank:      rank,
		size:      size,
		boot:      boot,
		worker:    worker,
		endpoints: endpoints,
		reg:       registry.New(),
		metrics:   metrics.New(),
		logger:    logger,
		pending:   make(map[registry.Handle]pendingMeta),
	}, nil
}

// Rank returns this process's rank in the world group.
func (c *Context) Rank() int { return c.rank }

// Size returns the world group's total rank count.
func (c *Context) Size() int { return c.size }

// Metrics exposes the context's counters, for wiring into a
// prometheus registry via metrics.NewCollector.
func (c *Context) Metrics() *metrics.Metrics { return c.metrics }

// Finalize tears down the World group: outstanding messages are
// dropped (not cancelled cleanly — there is no cancellation, §5),
// every endpoint is force-closed (never flushed, which has been
// observed to hang), the worker is closed, and the bootstrap is
// finalized.
func (c *Context) Finalize() error {
	c.pending = make(map[registry.Handle]pendingMeta)
	c.reg = registry.New()

	for _, ep := range c.endpoints {
		if ep != nil {
			_ = ep.Close()
		}
	}
	if err := c.worker.Close(); err != nil {
		return NewTransportError("Finalize", err.Error())
	}
	if err := c.boot.Finalize(); err != nil {
		return WrapError("Finalize", KindInternalError, err)
	}
	c.metrics.Stop()
	return nil
}

// Isend posts a non-blocking send of buf to dest under the given
// application tag and returns a handle to wait on.
func (c *Context) Isend(dest int, buf Buffer, tag int32) (Request, error) {
	if dest < 0 || dest >= c.size {
		return 0, NewError("Isend", KindInternalError, fmt.Sprintf("destination rank %d out of range [0,%d)", dest, c.size))
	}
	wireTag, err := tagcodec.Encode(tagcodec.OpUser, int32(c.rank), tag)
	if err != nil {
		return 0, NewError("Isend", KindInternalError, err.Error())
	}
	return c.submitSend(dest, buf, wireTag)
}

// Irecv posts a non-blocking receive of buf from source (or
// AnySource) matching the given application tag.
func (c *Context) Irecv(source int, buf Buffer, tag int32) (Request, error) {
	wireTag, mask, err := c.recvTagAndMask(source, tag)
	if err != nil {
		return 0, err
	}
	return c.submitRecv(wireTag, mask, buf)
}

func (c *Context) recvTagAndMask(source int, tag int32) (uint64, uint64, error) {
	if source == AnySource {
		wireTag, err := tagcodec.Encode(tagcodec.OpUser, 0, tag)
		if err != nil {
			return 0, 0, NewError("Irecv", KindInternalError, err.Error())
		}
		return wireTag, tagcodec.AnySourceMask, nil
	}
	if source < 0 || source >= c.size {
		return 0, 0, NewError("Irecv", KindInternalError, fmt.Sprintf("source rank %d out of range [0,%d)", source, c.size))
	}
	wireTag, err := tagcodec.Encode(tagcodec.OpUser, int32(source), tag)
	if err != nil {
		return 0, 0, NewError("Irecv", KindInternalError, err.Error())
	}
	return wireTag, tagcodec.FullMask, nil
}

// Probe performs a non-blocking tagged probe for a message from
// source (or AnySource) matching tag, without consuming it. It
// returns ErrNoProbeMessage (check with IsKind(err, KindNoProbeMessage)
// or errors.Is(err, mpigo.ErrNoProbeMessage)) when nothing matches.
func (c *Context) Probe(source int, tag int32) (size int64, matchedSource int, err error) {
	wireTag, mask, err := c.recvTagAndMask(source, tag)
	if err != nil {
		return 0, 0, err
	}
	res, perr := c.worker.ProbeTagged(wireTag, mask)
	if perr != nil {
		return 0, 0, NewTransportError("Probe", perr.Error())
	}
	if !res.Matched {
		return 0, 0, ErrNoProbeMessage
	}
	_, rank, _ := tagcodec.Decode(res.MatchedTag)
	return res.Size, int(rank), nil
}

// Waitall drives every handle's message to a terminal state, calling
// the transport worker's Progress once per sweep between handle
// sweeps, and returns per-handle results in the caller's input order
// regardless of completion order (§4.G, property 7).
func (c *Context) Waitall(handles []Request) []WaitResult {
	results := make([]WaitResult, len(handles))
	done := make([]bool, len(handles))
	remaining := len(handles)

	for remaining > 0 {
		c.metrics.RecordInFlight(uint32(remaining))
		progressedAny := false
		for i, h := range handles {
			if done[i] {
				continue
			}
			rh := registry.Handle(h)
			msg, ok := c.reg.Get(rh)
			if !ok {
				results[i] = WaitResult{Request: h, Status: StatusError,
					Err: NewError("Waitall", KindInternalError, "handle does not refer to a live message")}
				done[i] = true
				remaining--
				continue
			}
			msg.Progress()
			progressedAny = true
			status, fault := msg.Status()
			if status == message.StatusInProgress {
				continue
			}
			c.finishHandle(rh, msg)
			done[i] = true
			remaining--
			if status == message.StatusDone {
				results[i] = WaitResult{Request: h, Status: StatusComplete}
			} else {
				results[i] = WaitResult{Request: h, Status: StatusError, Err: translateFault("Waitall", fault)}
			}
		}
		if remaining > 0 {
			c.worker.Progress()
			if !progressedAny {
				time.Sleep(time.Microsecond)
			}
		}
	}
	return results
}

// Barrier is a straight-line O(n) barrier (§4.G): rank 0 sends a
// 1-byte payload to every other rank then receives from every other
// rank; every non-zero rank receives then sends, in the mirror order.
// It uses opcode 1 so it never collides with user traffic on the same
// peer pair.
func (c *Context) Barrier() error {
	if c.size <= 1 {
		return nil
	}
	start := time.Now()
	err := c.runBarrier()
	c.metrics.RecordBarrier(uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

func (c *Context) runBarrier() error {
	if c.rank == 0 {
		if err := c.barrierSendToAll(); err != nil {
			return err
		}
		return c.barrierRecvFromAll()
	}
	if err := c.barrierRecvFromRoot(); err != nil {
		return err
	}
	return c.barrierSendToRoot()
}

func (c *Context) barrierSendToAll() error {
	var handles []Request
	for peer := 1; peer < c.size; peer++ {
		wireTag, _ := tagcodec.Encode(tagcodec.OpBarrier, int32(c.rank), 0)
		h, err := c.submitSend(peer, ByteBuffer{Data: []byte{0}}, wireTag)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	return firstError(c.Waitall(handles))
}

func (c *Context) barrierRecvFromAll() error {
	var handles []Request
	for peer := 1; peer < c.size; peer++ {
		wireTag, _ := tagcodec.Encode(tagcodec.OpBarrier, int32(peer), 0)
		h, err := c.submitRecv(wireTag, tagcodec.FullMask, ByteBuffer{Data: make([]byte, 1)})
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	return firstError(c.Waitall(handles))
}

func (c *Context) barrierRecvFromRoot() error {
	wireTag, _ := tagcodec.Encode(tagcodec.OpBarrier, 0, 0)
	h, err := c.submitRecv(wireTag, tagcodec.FullMask, ByteBuffer{Data: make([]byte, 1)})
	if err != nil {
		return err
	}
	return firstError(c.Waitall([]Request{h}))
}

func (c *Context) barrierSendToRoot() error {
	wireTag, _ := tagcodec.Encode(tagcodec.OpBarrier, int32(c.rank), 0)
	h, err := c.submitSend(0, ByteBuffer{Data: []byte{0}}, wireTag)
	if err != nil {
		return err
	}
	return firstError(c.Waitall([]Request{h}))
}

func firstError(results []WaitResult) error {
	for _, r := range results {
		if r.Status == StatusError {
			return r.Err
		}
	}
	return nil
}

func (c *Context) submitSend(dest int, buf Buffer, wireTag uint64) (Request, error) {
	ep := c.endpoints[dest]
	var msg message.Message
	if pack := buf.MakePack(); pack != nil {
		sendMsg, err := message.NewSend(ep, wireTag, pack.(packmethod.Method))
		if err != nil {
			return 0, translateFault("Isend", err.(*message.Fault))
		}
		msg = sendMsg
	} else {
		msg = message.NewContiguousSend(ep, wireTag, buf.Bytes())
	}
	h := c.reg.Add(msg)
	c.pending[h] = pendingMeta{kind: "send", submitted: time.Now()}
	return Request(h), nil
}

// submitRecv always submits through this rank's own endpoint, since
// every endpoint dialed from the same worker shares that worker's
// single receive queue — which peer object RecvTagged is called
// through does not affect which sends it can match.
func (c *Context) submitRecv(wireTag, mask uint64, buf Buffer) (Request, error) {
	ep := c.endpoints[c.rank]
	var msg message.Message
	if unpack := buf.MakeUnpack(); unpack != nil {
		recvMsg, err := message.NewRecv(ep, wireTag, mask, unpack.(packmethod.Method))
		if err != nil {
			return 0, translateFault("Irecv", err.(*message.Fault))
		}
		msg = recvMsg
	} else {
		recvMsg, err := message.NewContiguousRecv(ep, wireTag, mask, buf.MutableBytes())
		if err != nil {
			return 0, translateFault("Irecv", err.(*message.Fault))
		}
		msg = recvMsg
	}
	h := c.reg.Add(msg)
	c.pending[h] = pendingMeta{kind: "recv", submitted: time.Now()}
	return Request(h), nil
}

func (c *Context) finishHandle(h registry.Handle, msg message.Message) {
	meta, ok := c.pending[h]
	c.reg.Remove(h)
	if !ok {
		return
	}
	delete(c.pending, h)
	status, _ := msg.Status()
	latency := uint64(time.Since(meta.submitted).Nanoseconds())
	success := status == message.StatusDone
	switch meta.kind {
	case "send":
		c.metrics.RecordSend(uint64(msg.PackedBytes()), uint64(msg.RegionBytes()), latency, success)
	case "recv":
		c.metrics.RecordRecv(uint64(msg.PackedBytes()), uint64(msg.RegionBytes()), latency, success)
	}
}

func translateFault(op string, f *message.Fault) *Error {
	if f == nil {
		return nil
	}
	var kind Kind
	switch f.Kind {
	case message.KindPackError:
		kind = KindPackError
	case message.KindUnpackError:
		kind = KindUnpackError
	case message.KindPackedSizeError:
		kind = KindPackedSizeError
	case message.KindStateError:
		kind = KindStateError
	case message.KindRegionError:
		kind = KindRegionError
	case message.KindTransportError:
		kind = KindTransportError
	default:
		kind = KindInternalError
	}
	return NewError(op, kind, f.Msg)
}
