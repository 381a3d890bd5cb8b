package mpigo_test

import (
	"sync"
	"testing"

	"github.com/behrlich/mpigo"
	"github.com/behrlich/mpigo/internal/bootstrap/memboot"
	"github.com/behrlich/mpigo/internal/transport/loopback"
)

// setupWorld brings up n ranks sharing one loopback network and one
// memboot hub, each in its own goroutine since Init's Fence blocks
// until every rank has called it.
func setupWorld(t *testing.T, n int) []*mpigo.Context {
	t.Helper()
	net := loopback.NewNetwork()
	hub := memboot.NewHub(n)

	contexts := make([]*mpigo.Context, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for rank := 0; rank < n; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			boot := memboot.New(hub, rank)
			worker := net.NewWorker()
			ctx, err := mpigo.Init(boot, worker, mpigo.Config{})
			contexts[rank] = ctx
			errs[rank] = err
		}(rank)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: Init: %v", rank, err)
		}
	}
	return contexts
}

func finalizeAll(t *testing.T, contexts []*mpigo.Context) {
	t.Helper()
	for _, c := range contexts {
		if err := c.Finalize(); err != nil {
			t.Errorf("Finalize: %v", err)
		}
	}
}

// TestBytePing is scenario S1: rank 0 sends 4 bytes tagged 7 to rank
// 1, which receives them into a 4-byte buffer.
func TestBytePing(t *testing.T) {
	contexts := setupWorld(t, 2)
	defer finalizeAll(t, contexts)

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	dst := make([]byte, 4)

	var wg sync.WaitGroup
	var sendErr, recvErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		req, err := contexts[0].Isend(1, mpigo.ByteBuffer{Data: payload}, 7)
		if err != nil {
			sendErr = err
			return
		}
		sendErr = firstWaitErr(contexts[0].Waitall([]mpigo.Request{req}))
	}()
	go func() {
		defer wg.Done()
		req, err := contexts[1].Irecv(0, mpigo.ByteBuffer{Data: dst}, 7)
		if err != nil {
			recvErr = err
			return
		}
		recvErr = firstWaitErr(contexts[1].Waitall([]mpigo.Request{req}))
	}()
	wg.Wait()

	if sendErr != nil {
		t.Fatalf("send: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("recv: %v", recvErr)
	}
	for i, b := range payload {
		if dst[i] != b {
			t.Fatalf("dst[%d] = %d, want %d", i, dst[i], b)
		}
	}
}

// TestSelfSend is property 6: sending to and receiving from one's own
// rank within a single Waitall of two handles completes without
// deadlock.
func TestSelfSend(t *testing.T) {
	contexts := setupWorld(t, 1)
	defer finalizeAll(t, contexts)

	c := contexts[0]
	payload := []byte("loopback-self")
	dst := make([]byte, len(payload))

	sendReq, err := c.Isend(0, mpigo.ByteBuffer{Data: payload}, 99)
	if err != nil {
		t.Fatal(err)
	}
	recvReq, err := c.Irecv(0, mpigo.ByteBuffer{Data: dst}, 99)
	if err != nil {
		t.Fatal(err)
	}

	results := c.Waitall([]mpigo.Request{sendReq, recvReq})
	for _, r := range results {
		if r.Status != mpigo.StatusComplete {
			t.Fatalf("status = %v, err = %v", r.Status, r.Err)
		}
	}
	if string(dst) != string(payload) {
		t.Fatalf("got %q, want %q", dst, payload)
	}
}

// TestWaitallStatusOrder is property 7: Waitall returns statuses
// positioned by handle index, independent of completion order. Rank
// 0's self-receive (index 1) completes one sweep before its self-send
// (index 0), and its cross-rank receive (index 2) waits on rank 1's
// concurrent send; each result still reports at its own handle's
// index.
func TestWaitallStatusOrder(t *testing.T) {
	contexts := setupWorld(t, 2)
	defer finalizeAll(t, contexts)

	// A self-send/recv pair on rank 0, driven to completion inside the
	// same Waitall, standing in for "h0".
	selfPayload := []byte{9}
	selfDst := make([]byte, 1)
	selfSend, err := contexts[0].Isend(0, mpigo.ByteBuffer{Data: selfPayload}, 1)
	if err != nil {
		t.Fatal(err)
	}
	selfRecv, err := contexts[0].Irecv(0, mpigo.ByteBuffer{Data: selfDst}, 1)
	if err != nil {
		t.Fatal(err)
	}

	// A cross-rank receive that cannot complete until rank 1 sends,
	// which happens concurrently below, standing in for "h1".
	crossDst := make([]byte, 1)
	crossRecv, err := contexts[0].Irecv(1, mpigo.ByteBuffer{Data: crossDst}, 2)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		req, err := contexts[1].Isend(0, mpigo.ByteBuffer{Data: []byte{7}}, 2)
		if err != nil {
			t.Error(err)
			return
		}
		if err := firstWaitErr(contexts[1].Waitall([]mpigo.Request{req})); err != nil {
			t.Error(err)
		}
	}()

	handles := []mpigo.Request{selfSend, selfRecv, crossRecv}
	results := contexts[0].Waitall(handles)
	wg.Wait()

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Request != handles[i] {
			t.Fatalf("results[%d].Request = %v, want %v", i, r.Request, handles[i])
		}
		if r.Status != mpigo.StatusComplete {
			t.Fatalf("results[%d].Status = %v, err = %v", i, r.Status, r.Err)
		}
	}
	if crossDst[0] != 7 {
		t.Fatalf("crossDst = %v, want [7]", crossDst)
	}
}

// TestProbe is scenario S6: rank 0 sends N bytes tagged 42 to rank 1;
// rank 1's Probe reports the size and source before a matching Irecv
// consumes it.
func TestProbe(t *testing.T) {
	contexts := setupWorld(t, 2)
	defer finalizeAll(t, contexts)

	payload := []byte("probe-me-now")

	done := make(chan error, 1)
	go func() {
		req, err := contexts[0].Isend(1, mpigo.ByteBuffer{Data: payload}, 42)
		if err != nil {
			done <- err
			return
		}
		done <- firstWaitErr(contexts[0].Waitall([]mpigo.Request{req}))
	}()

	var size int64
	var source int
	var err error
	for i := 0; i < 100000; i++ {
		size, source, err = contexts[1].Probe(0, 42)
		if err == nil {
			break
		}
		if !mpigo.IsKind(err, mpigo.KindNoProbeMessage) {
			t.Fatalf("Probe: %v", err)
		}
	}
	if err != nil {
		t.Fatalf("Probe never matched: %v", err)
	}
	if size != int64(len(payload)) {
		t.Fatalf("Probe size = %d, want %d", size, len(payload))
	}
	if source != 0 {
		t.Fatalf("Probe source = %d, want 0", source)
	}

	dst := make([]byte, len(payload))
	req, err := contexts[1].Irecv(0, mpigo.ByteBuffer{Data: dst}, 42)
	if err != nil {
		t.Fatal(err)
	}
	if err := firstWaitErr(contexts[1].Waitall([]mpigo.Request{req})); err != nil {
		t.Fatal(err)
	}
	if string(dst) != string(payload) {
		t.Fatalf("got %q, want %q", dst, payload)
	}
	if err := <-done; err != nil {
		t.Fatalf("sender: %v", err)
	}
}

// TestBarrierOfFour is scenario S5: four ranks call Barrier; each
// rank's call returns only after all four have entered it.
func TestBarrierOfFour(t *testing.T) {
	contexts := setupWorld(t, 4)
	defer finalizeAll(t, contexts)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i, c := range contexts {
		wg.Add(1)
		go func(i int, c *mpigo.Context) {
			defer wg.Done()
			errs[i] = c.Barrier()
		}(i, c)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: Barrier: %v", i, err)
		}
	}
}

func firstWaitErr(results []mpigo.WaitResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
