package natsboot

import (
	"os"
	"testing"
)

// TestPutGetFence exercises natsboot against a real NATS server. It is
// skipped unless MPIGO_NATS_TEST_ADDR is set, since this package's
// only dependency is an external server this module cannot stand up
// itself.
func TestPutGetFence(t *testing.T) {
	addr := os.Getenv("MPIGO_NATS_TEST_ADDR")
	if addr == "" {
		t.Skip("set MPIGO_NATS_TEST_ADDR to a reachable NATS server to run this test")
	}

	const size = 2
	boots := make([]*Bootstrap, size)
	for i := 0; i < size; i++ {
		b, err := New(addr, "mpigo-test", i, size)
		if err != nil {
			t.Fatalf("rank %d: New: %v", i, err)
		}
		defer b.Finalize()
		boots[i] = b
	}

	for i, b := range boots {
		if err := b.Put("addr", []byte{byte(i + 1)}); err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan error, size)
	for _, b := range boots {
		go func(b *Bootstrap) { done <- b.Fence() }(b)
	}
	for range boots {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}

	v, err := boots[0].Get(1, "addr")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 1 || v[0] != 2 {
		t.Fatalf("Get(1) = %v, want [2]", v)
	}
}
