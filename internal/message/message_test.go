package message

import (
	"errors"
	"testing"

	"github.com/behrlich/mpigo/internal/packmethod"
	"github.com/behrlich/mpigo/internal/transport"
	"github.com/behrlich/mpigo/internal/transport/loopback"
)

// byteStreamer packs/unpacks a plain []byte one chunk at a time, so
// tests can exercise multi-call pack coverage without a real buffer
// type from the root package.
type byteStreamer struct {
	data      []byte
	chunkSize int
	packCalls int
}

func (s *byteStreamer) PackedSize() (int64, error) { return int64(len(s.data)), nil }

func (s *byteStreamer) Pack(offset int64, dst []byte) (int, error) {
	s.packCalls++
	n := s.chunkSize
	if n <= 0 || n > len(dst) {
		n = len(dst)
	}
	if int64(n) > int64(len(s.data))-offset {
		n = len(s.data) - int(offset)
	}
	copy(dst[:n], s.data[offset:])
	return n, nil
}

type byteUnstreamer struct {
	size int64
	got  []byte
}

func (u *byteUnstreamer) PackedSize() (int64, error) { return u.size, nil }

func (u *byteUnstreamer) Unpack(offset int64, src []byte) error {
	buf := make([]byte, len(src))
	copy(buf, src)
	u.got = buf
	return nil
}

type regionSet struct {
	regions []packmethod.Region
}

func (r *regionSet) Regions() ([]packmethod.Region, error) { return r.regions, nil }

type failingPack struct{ err error }

func (f *failingPack) PackedSize() (int64, error) { return 8, nil }
func (f *failingPack) Pack(int64, []byte) (int, error) {
	return 0, f.err
}

func newLinkedWorkers(t *testing.T) (*loopback.Worker, *loopback.Worker) {
	t.Helper()
	net := loopback.NewNetwork()
	return net.NewWorker(), net.NewWorker()
}

func drive(t *testing.T, worker *loopback.Worker, msgs ...Message) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		allTerminal := true
		for _, m := range msgs {
			status, _ := m.Status()
			if status == StatusInProgress {
				m.Progress()
				allTerminal = false
			}
		}
		worker.Progress()
		if allTerminal {
			return
		}
	}
	t.Fatal("messages did not reach a terminal state")
}

func TestSendRecvStreamingRoundTrip(t *testing.T) {
	wa, wb := newLinkedWorkers(t)
	epA, err := wa.Connect(wb.LocalAddress())
	if err != nil {
		t.Fatal(err)
	}
	epB, err := wb.Connect(wa.LocalAddress())
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("the quick brown fox jumps over the lazy dog")
	streamer := &byteStreamer{data: payload, chunkSize: 7}
	unstreamer := &byteUnstreamer{size: int64(len(payload))}

	send, err := NewSend(epA, 42, streamer)
	if err != nil {
		t.Fatal(err)
	}
	recv, err := NewRecv(epB, 42, tagcodecFullMask(), unstreamer)
	if err != nil {
		t.Fatal(err)
	}

	drive(t, wa, send)
	drive(t, wb, recv)
	drive(t, wa, send)
	drive(t, wb, recv)

	if status, fault := send.Status(); status != StatusDone {
		t.Fatalf("send status = %v, fault = %v", status, fault)
	}
	if status, fault := recv.Status(); status != StatusDone {
		t.Fatalf("recv status = %v, fault = %v", status, fault)
	}
	if string(unstreamer.got) != string(payload) {
		t.Fatalf("got %q, want %q", unstreamer.got, payload)
	}
	if streamer.packCalls < 2 {
		t.Fatalf("expected packing to span multiple Progress calls, got %d calls", streamer.packCalls)
	}
}

func TestSendRecvWithRegionsConcatenatesPackedPrefixThenRegions(t *testing.T) {
	wa, wb := newLinkedWorkers(t)
	epA, _ := wa.Connect(wb.LocalAddress())
	epB, _ := wb.Connect(wa.LocalAddress())

	header := []byte("HDR!")
	body := []byte("bodybytes")

	type streamAndRegions struct {
		*byteStreamer
		*regionSet
	}
	sendMethod := streamAndRegions{
		byteStreamer: &byteStreamer{data: header},
		regionSet:    &regionSet{regions: []packmethod.Region{packmethod.Region(body)}},
	}

	recvBody := make([]byte, len(body))
	recvMethod := struct {
		*byteUnstreamer
		*regionSetFixed
	}{
		byteUnstreamer: &byteUnstreamer{size: int64(len(header))},
		regionSetFixed: &regionSetFixed{regions: []packmethod.Region{packmethod.Region(recvBody)}},
	}

	send, err := NewSend(epA, 7, sendMethod)
	if err != nil {
		t.Fatal(err)
	}
	recv, err := NewRecv(epB, 7, tagcodecFullMask(), recvMethod)
	if err != nil {
		t.Fatal(err)
	}

	drive(t, wa, send)
	drive(t, wb, recv)

	if status, fault := send.Status(); status != StatusDone {
		t.Fatalf("send status = %v, fault = %v", status, fault)
	}
	if status, fault := recv.Status(); status != StatusDone {
		t.Fatalf("recv status = %v, fault = %v", status, fault)
	}
	if string(recvMethod.byteUnstreamer.got) != string(header) {
		t.Fatalf("header mismatch: got %q want %q", recvMethod.byteUnstreamer.got, header)
	}
	if string(recvBody) != string(body) {
		t.Fatalf("body mismatch: got %q want %q", recvBody, body)
	}
	if send.PackedBytes() != int64(len(header)) {
		t.Fatalf("PackedBytes = %d, want %d", send.PackedBytes(), len(header))
	}
	if send.RegionBytes() != int64(len(body)) {
		t.Fatalf("RegionBytes = %d, want %d", send.RegionBytes(), len(body))
	}
}

// regionSetFixed scatters into caller-owned, already-sized regions
// (used on the receive side where the destination memory is fixed).
type regionSetFixed struct {
	regions []packmethod.Region
}

func (r *regionSetFixed) Regions() ([]packmethod.Region, error) { return r.regions, nil }

func TestSendPackErrorSurfacesAsPackError(t *testing.T) {
	wa, wb := newLinkedWorkers(t)
	epA, _ := wa.Connect(wb.LocalAddress())

	send, err := NewSend(epA, 1, &failingPack{err: errors.New("boom")})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		status, fault := send.Status()
		if status == StatusError {
			if fault.Kind != KindPackError {
				t.Fatalf("expected pack_error, got %q", fault.Kind)
			}
			return
		}
		send.Progress()
	}
	t.Fatal("expected send to reach an error state")
}

func TestContiguousSendRecvRoundTrip(t *testing.T) {
	wa, wb := newLinkedWorkers(t)
	epA, _ := wa.Connect(wb.LocalAddress())
	epB, _ := wb.Connect(wa.LocalAddress())

	payload := []byte{1, 2, 3, 4, 5}
	dst := make([]byte, len(payload))

	send := NewContiguousSend(epA, 99, payload)
	recv, err := NewContiguousRecv(epB, 99, tagcodecFullMask(), dst)
	if err != nil {
		t.Fatal(err)
	}

	drive(t, wa, send)
	drive(t, wb, recv)

	if status, fault := send.Status(); status != StatusDone {
		t.Fatalf("send status = %v, fault = %v", status, fault)
	}
	if status, fault := recv.Status(); status != StatusDone {
		t.Fatalf("recv status = %v, fault = %v", status, fault)
	}
	for i := range payload {
		if dst[i] != payload[i] {
			t.Fatalf("dst[%d] = %d, want %d", i, dst[i], payload[i])
		}
	}
}

func TestSelfLoopbackSend(t *testing.T) {
	net := loopback.NewNetwork()
	w := net.NewWorker()
	ep, err := w.Connect(w.LocalAddress())
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("self")
	dst := make([]byte, len(payload))
	send := NewContiguousSend(ep, 5, payload)
	recv, err := NewContiguousRecv(ep, 5, tagcodecFullMask(), dst)
	if err != nil {
		t.Fatal(err)
	}

	drive(t, w, send, recv)

	if string(dst) != string(payload) {
		t.Fatalf("got %q, want %q", dst, payload)
	}
}

func tagcodecFullMask() uint64 { return ^uint64(0) }

var _ transport.Worker = (*loopback.Worker)(nil)
