package message

import "testing"

func TestGetBufferExactLength(t *testing.T) {
	buf := getBuffer(100)
	if len(buf) != 100 {
		t.Fatalf("expected length 100, got %d", len(buf))
	}
	putBuffer(buf)
}

func TestGetBufferLargerThanLargestBucket(t *testing.T) {
	buf := getBuffer(2 * 1024 * 1024)
	if len(buf) != 2*1024*1024 {
		t.Fatalf("expected length 2MiB, got %d", len(buf))
	}
}

func TestGetBufferZero(t *testing.T) {
	if buf := getBuffer(0); buf != nil {
		t.Fatalf("expected nil for size 0, got %v", buf)
	}
}

func TestPoolRoundTripPreservesAddressStability(t *testing.T) {
	buf := getBuffer(500 * 1024)
	if len(buf) != 500*1024 {
		t.Fatalf("expected length 500KiB, got %d", len(buf))
	}
	// Capacity comes from the 512KiB bucket even though length is exact.
	if cap(buf) < len(buf) {
		t.Fatalf("capacity %d smaller than length %d", cap(buf), len(buf))
	}
	putBuffer(buf)
}
