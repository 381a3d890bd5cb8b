// Package packmethod defines the three pack-method variants a Buffer
// may hand back to the message engine: contiguous (no pack method at
// all), streaming, and memory-regions. A single object may implement
// more than one of Streamer/Unstreamer/RegionProvider — the engine
// type-asserts for each capability rather than requiring a closed
// variant type, the same way the message engine's neighbors in this
// codebase probe a backend for optional capabilities.
package packmethod

// Region is a single scatter/gather entry: a live view into user
// memory. Because a Go slice header already carries address, length,
// and a reference that keeps the backing array alive, a Region is
// simply a []byte — there is no need to traffic in unsafe.Pointer on
// the pure-Go side of this engine (the C ABI shim is where raw
// addresses become unavoidable).
type Region []byte

// Len returns the total byte length of a region sequence.
func Len(regions []Region) int64 {
	var n int64
	for _, r := range regions {
		n += int64(len(r))
	}
	return n
}

// Streamer is the streaming pack-method contract (§4.C, send side).
// PackedSize is queryable at any time before the first Pack call and
// must return the same value for the life of the method. Pack writes
// up to len(dst) bytes at logical stream offset `offset` and returns
// the number of bytes actually written; calls arrive with monotonic,
// contiguous offsets covering [0, packed_size).
type Streamer interface {
	PackedSize() (int64, error)
	Pack(offset int64, dst []byte) (used int, err error)
}

// Unstreamer is the streaming unpack-method contract (§4.C, receive
// side). Unpack consumes src at logical offset; the engine guarantees
// monotonic offsets and full coverage of [0, packed_size) before
// declaring completion, though it may fragment delivery across
// multiple calls since the transport may not deliver in one shot.
type Unstreamer interface {
	PackedSize() (int64, error)
	Unpack(offset int64, src []byte) error
}

// RegionProvider enumerates the memory-regions variant: a finite
// ordered sequence of regions that together form the serialized
// payload in wire order. Regions is called once per message; the
// backing memory must remain valid until the owning message
// completes.
type RegionProvider interface {
	Regions() ([]Region, error)
}

// Method is the value a Buffer's MakePack/MakeUnpack returns: any
// object implementing zero or more of Streamer, Unstreamer, and
// RegionProvider. A nil Method signals the default contiguous
// transfer.
type Method any
