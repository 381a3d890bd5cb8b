package tagcodec

import (
	"math"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	opcodes := []uint8{0, 1, 7, 255}
	ranks := []int32{0, 1, 42, MaxRank}
	tags := []int32{0, 1, -1, math.MinInt32, math.MaxInt32, 7}

	for _, op := range opcodes {
		for _, rank := range ranks {
			for _, tag := range tags {
				wire, err := Encode(op, rank, tag)
				if err != nil {
					t.Fatalf("Encode(%d,%d,%d) error: %v", op, rank, tag, err)
				}
				gotOp, gotRank, gotTag := Decode(wire)
				if gotOp != op || gotRank != rank || gotTag != tag {
					t.Fatalf("round trip mismatch: encoded (%d,%d,%d), decoded (%d,%d,%d)",
						op, rank, tag, gotOp, gotRank, gotTag)
				}
			}
		}
	}
}

func TestEncodeRejectsOutOfRangeRank(t *testing.T) {
	if _, err := Encode(OpUser, MaxRank+1, 0); err == nil {
		t.Error("expected error for rank just above MaxRank")
	}
	if _, err := Encode(OpUser, -1, 0); err == nil {
		t.Error("expected error for negative rank")
	}
}

func TestAnySourceMaskClearsRankBits(t *testing.T) {
	wire, err := Encode(OpUser, 5, 42)
	if err != nil {
		t.Fatal(err)
	}
	other, err := Encode(OpUser, 9, 42)
	if err != nil {
		t.Fatal(err)
	}
	if wire&AnySourceMask != other&AnySourceMask {
		t.Error("expected any-source mask to make tags from different ranks compare equal")
	}
	if wire&FullMask == other&FullMask {
		t.Error("expected full mask to distinguish tags from different ranks")
	}
}

func TestBarrierAndUserOpcodesDoNotCollide(t *testing.T) {
	userWire, _ := Encode(OpUser, 2, 0)
	barrierWire, _ := Encode(OpBarrier, 2, 0)
	if userWire == barrierWire {
		t.Error("expected distinct wire tags for OpUser and OpBarrier with identical rank/tag")
	}
}
