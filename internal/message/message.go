// Package message implements the per-message state machines that
// drive packing, buffer assembly, transport submission, and
// completion — the hard engineering core of this runtime. There are
// four concrete state machines: Send and Recv (which negotiate
// streaming pack/unpack with memory regions) and ContiguousSend/
// ContiguousRecv, a genuinely distinct fast path used whenever the
// Buffer yields no pack method at all.
//
// None of these types are safe for concurrent use; they are driven
// exclusively by explicit Progress calls from a single goroutine, the
// same cooperative, no-background-thread model as the rest of this
// runtime.
package message

import (
	"github.com/behrlich/mpigo/internal/packmethod"
	"github.com/behrlich/mpigo/internal/transport"
)

// Status is the tri-state completion status of a Message.
type Status int

const (
	StatusInProgress Status = iota
	StatusDone
	StatusError
)

// Message is the common surface the Registry and Context drive.
type Message interface {
	// Progress advances the message by one step. It never blocks.
	Progress()
	// Status reports the current terminal or in-progress state. fault
	// is non-nil only when the returned Status is StatusError.
	Status() (Status, *Fault)
	// PackedBytes and RegionBytes report how much of the payload
	// traveled through the staging buffer versus directly through
	// memory regions, for metrics; a contiguous message reports its
	// whole payload as PackedBytes. Both are only meaningful once the
	// message has left its initial packing/assembling phase.
	PackedBytes() int64
	RegionBytes() int64
}

// --- Send state machine: packing -> assembling -> submitted -> done|error ---

type sendPhase int

const (
	sendPacking sendPhase = iota
	sendAssembling
	sendSubmitted
	sendDone
	sendError
)

// Send is the non-contiguous send state machine (§4.E.1).
type Send struct {
	ep  transport.Endpoint
	tag uint64

	streamer packmethod.Streamer
	regions  packmethod.RegionProvider

	packedSize int64
	packedBuf  []byte
	packOffset int64

	regionBytes int64

	phase sendPhase
	fault *Fault
	req   transport.Request
}

// NewSend constructs a Send message. method is the value returned by
// the Buffer's MakePack; regions-only methods (no Streamer) produce a
// zero-length packed prefix.
func NewSend(ep transport.Endpoint, tag uint64, method packmethod.Method) (*Send, error) {
	s := &Send{ep: ep, tag: tag, phase: sendAssembling}

	if streamer, ok := method.(packmethod.Streamer); ok {
		size, err := streamer.PackedSize()
		if err != nil {
			return nil, newFault(KindPackedSizeError, err.Error())
		}
		s.streamer = streamer
		s.packedSize = size
		s.packedBuf = getBuffer(size)
		s.phase = sendPacking
	}
	if rp, ok := method.(packmethod.RegionProvider); ok {
		s.regions = rp
	}
	return s, nil
}

func (s *Send) Progress() {
	switch s.phase {
	case sendPacking:
		s.progressPacking()
	case sendAssembling:
		s.progressAssembling()
	case sendSubmitted:
		s.progressSubmitted()
	}
}

func (s *Send) progressPacking() {
	if s.packOffset >= s.packedSize {
		s.phase = sendAssembling
		return
	}
	used, err := s.streamer.Pack(s.packOffset, s.packedBuf[s.packOffset:])
	if err != nil {
		s.fail(newFault(KindPackError, err.Error()))
		return
	}
	if used <= 0 {
		s.fail(newFault(KindPackError, "pack returned used=0 without completing packed_size"))
		return
	}
	remaining := s.packedSize - s.packOffset
	if int64(used) > remaining {
		s.fail(newFault(KindPackError, "pack wrote more than the remaining capacity"))
		return
	}
	s.packOffset += int64(used)
	if s.packOffset == s.packedSize {
		s.phase = sendAssembling
	}
}

func (s *Send) progressAssembling() {
	var iov [][]byte
	if s.packedSize > 0 {
		iov = append(iov, s.packedBuf)
	}
	if s.regions != nil {
		regions, err := s.regions.Regions()
		if err != nil {
			s.fail(newFault(KindRegionError, err.Error()))
			return
		}
		for _, r := range regions {
			s.regionBytes += int64(len(r))
			iov = append(iov, []byte(r))
		}
	}
	req, err := s.ep.SendTagged(s.tag, iov)
	if err != nil {
		s.fail(newFault(KindTransportError, err.Error()))
		return
	}
	s.req = req
	s.phase = sendSubmitted
}

func (s *Send) progressSubmitted() {
	status, err := s.req.Status()
	switch status {
	case transport.Complete:
		s.req.Release()
		s.phase = sendDone
	case transport.Failed:
		s.req.Release()
		s.fail(newFault(KindTransportError, err.Error()))
	}
}

func (s *Send) fail(f *Fault) {
	s.fault = f
	s.phase = sendError
	if s.packedBuf != nil {
		putBuffer(s.packedBuf)
		s.packedBuf = nil
	}
}

func (s *Send) Status() (Status, *Fault) {
	switch s.phase {
	case sendDone:
		return StatusDone, nil
	case sendError:
		return StatusError, s.fault
	default:
		return StatusInProgress, nil
	}
}

func (s *Send) PackedBytes() int64 { return s.packOffset }
func (s *Send) RegionBytes() int64 { return s.regionBytes }

// --- Recv state machine: assembling -> submitted -> unpacking -> done|error ---

type recvPhase int

const (
	recvSubmitted recvPhase = iota
	recvUnpacking
	recvDone
	recvError
)

// Recv is the non-contiguous receive state machine (§4.E.2). Unlike
// Send, assembly and submission happen synchronously at construction:
// there is no incremental packing to interleave with progress calls
// on the receive side.
type Recv struct {
	ep  transport.Endpoint
	tag uint64

	unstreamer packmethod.Unstreamer
	regions    packmethod.RegionProvider

	packedSize  int64
	stagingBuf  []byte
	regionBytes int64

	phase recvPhase
	fault *Fault
	req   transport.Request
}

// NewRecv constructs and immediately submits a Recv message.
func NewRecv(ep transport.Endpoint, tag, mask uint64, method packmethod.Method) (*Recv, error) {
	r := &Recv{ep: ep, tag: tag, phase: recvSubmitted}

	if unstreamer, ok := method.(packmethod.Unstreamer); ok {
		size, err := unstreamer.PackedSize()
		if err != nil {
			return nil, newFault(KindPackedSizeError, err.Error())
		}
		r.unstreamer = unstreamer
		r.packedSize = size
		r.stagingBuf = getBuffer(size)
	}
	if rp, ok := method.(packmethod.RegionProvider); ok {
		r.regions = rp
	}

	var iov [][]byte
	if r.packedSize > 0 {
		iov = append(iov, r.stagingBuf)
	}
	if r.regions != nil {
		regions, err := r.regions.Regions()
		if err != nil {
			return nil, newFault(KindRegionError, err.Error())
		}
		for _, rg := range regions {
			r.regionBytes += int64(len(rg))
			iov = append(iov, []byte(rg))
		}
	}

	req, err := ep.RecvTagged(tag, mask, iov)
	if err != nil {
		return nil, newFault(KindTransportError, err.Error())
	}
	r.req = req
	return r, nil
}

func (r *Recv) Progress() {
	switch r.phase {
	case recvSubmitted:
		r.progressSubmitted()
	case recvUnpacking:
		r.progressUnpacking()
	}
}

func (r *Recv) progressSubmitted() {
	status, err := r.req.Status()
	switch status {
	case transport.Complete:
		r.req.Release()
		if r.packedSize > 0 {
			r.phase = recvUnpacking
		} else {
			r.phase = recvDone
		}
	case transport.Failed:
		r.req.Release()
		r.fail(newFault(KindTransportError, err.Error()))
	}
}

func (r *Recv) progressUnpacking() {
	if err := r.unstreamer.Unpack(0, r.stagingBuf); err != nil {
		r.fail(newFault(KindUnpackError, err.Error()))
		return
	}
	r.phase = recvDone
	putBuffer(r.stagingBuf)
	r.stagingBuf = nil
}

func (r *Recv) fail(f *Fault) {
	r.fault = f
	r.phase = recvError
	if r.stagingBuf != nil {
		putBuffer(r.stagingBuf)
		r.stagingBuf = nil
	}
}

func (r *Recv) Status() (Status, *Fault) {
	switch r.phase {
	case recvDone:
		return StatusDone, nil
	case recvError:
		return StatusError, r.fault
	default:
		return StatusInProgress, nil
	}
}

func (r *Recv) PackedBytes() int64 { return r.packedSize }
func (r *Recv) RegionBytes() int64 { return r.regionBytes }

// --- Contiguous fast path (§4.E.3): distinct from a degenerate one-region iovec ---

type contigPhase int

const (
	contigPending contigPhase = iota
	contigSubmitted
	contigDone
	contigError
)

// ContiguousSend carries just (pointer, count, peer, tag, request);
// it exists so the transport can use its contiguous-send fast path
// instead of iovec framing.
type ContiguousSend struct {
	ep    transport.Endpoint
	tag   uint64
	buf   []byte
	phase contigPhase
	fault *Fault
	req   transport.Request
}

// NewContiguousSend constructs a contiguous send over buf (the raw
// Buffer contents, not copied).
func NewContiguousSend(ep transport.Endpoint, tag uint64, buf []byte) *ContiguousSend {
	return &ContiguousSend{ep: ep, tag: tag, buf: buf}
}

func (c *ContiguousSend) Progress() {
	switch c.phase {
	case contigPending:
		req, err := c.ep.SendTagged(c.tag, [][]byte{c.buf})
		if err != nil {
			c.fault = newFault(KindTransportError, err.Error())
			c.phase = contigError
			return
		}
		c.req = req
		c.phase = contigSubmitted
	case contigSubmitted:
		status, err := c.req.Status()
		switch status {
		case transport.Complete:
			c.req.Release()
			c.phase = contigDone
		case transport.Failed:
			c.req.Release()
			c.fault = newFault(KindTransportError, err.Error())
			c.phase = contigError
		}
	}
}

func (c *ContiguousSend) Status() (Status, *Fault) {
	switch c.phase {
	case contigDone:
		return StatusDone, nil
	case contigError:
		return StatusError, c.fault
	default:
		return StatusInProgress, nil
	}
}

func (c *ContiguousSend) PackedBytes() int64 { return int64(len(c.buf)) }
func (c *ContiguousSend) RegionBytes() int64 { return 0 }

// ContiguousRecv is ContiguousSend's receive-side counterpart.
type ContiguousRecv struct {
	ep    transport.Endpoint
	tag   uint64
	mask  uint64
	buf   []byte
	phase contigPhase
	fault *Fault
	req   transport.Request
}

// NewContiguousRecv constructs and immediately submits a contiguous
// receive into buf.
func NewContiguousRecv(ep transport.Endpoint, tag, mask uint64, buf []byte) (*ContiguousRecv, error) {
	c := &ContiguousRecv{ep: ep, tag: tag, mask: mask, buf: buf}
	req, err := ep.RecvTagged(tag, mask, [][]byte{buf})
	if err != nil {
		return nil, newFault(KindTransportError, err.Error())
	}
	c.req = req
	c.phase = contigSubmitted
	return c, nil
}

func (c *ContiguousRecv) Progress() {
	if c.phase != contigSubmitted {
		return
	}
	status, err := c.req.Status()
	switch status {
	case transport.Complete:
		c.req.Release()
		c.phase = contigDone
	case transport.Failed:
		c.req.Release()
		c.fault = newFault(KindTransportError, err.Error())
		c.phase = contigError
	}
}

func (c *ContiguousRecv) Status() (Status, *Fault) {
	switch c.phase {
	case contigDone:
		return StatusDone, nil
	case contigError:
		return StatusError, c.fault
	default:
		return StatusInProgress, nil
	}
}

func (c *ContiguousRecv) PackedBytes() int64 { return int64(len(c.buf)) }
func (c *ContiguousRecv) RegionBytes() int64 { return 0 }

var (
	_ Message = (*Send)(nil)
	_ Message = (*Recv)(nil)
	_ Message = (*ContiguousSend)(nil)
	_ Message = (*ContiguousRecv)(nil)
)
