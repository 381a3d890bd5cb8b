package mpigo

import "unsafe"

// Buffer describes a user payload the engine may send or receive
// (§3, §4.B). The contiguous fast path reads/writes Bytes/MutableBytes
// directly; a Buffer that returns a non-nil pack or unpack method
// instead routes through the packmethod protocol (streaming,
// memory-regions, or both).
type Buffer interface {
	// Bytes returns the buffer's contents for the contiguous send
	// path. Only meaningful when MakePack returns nil.
	Bytes() []byte
	// MutableBytes returns a writable view for the contiguous receive
	// path. Only meaningful when MakeUnpack returns nil. A send-only
	// buffer may return nil here.
	MutableBytes() []byte
	// Count reports the element count: byte count for contiguous
	// buffers, application-defined element count for custom
	// datatypes.
	Count() int64
	// MakePack returns a pack method for the send side, or nil for
	// the default contiguous transfer.
	MakePack() any
	// MakeUnpack returns an unpack method for the receive side, or
	// nil for the default contiguous transfer.
	MakeUnpack() any
}

// ByteBuffer is the BYTE datatype: a plain byte slice transferred
// contiguously. Count is the byte length.
type ByteBuffer struct {
	Data []byte
}

func (b ByteBuffer) Bytes() []byte        { return b.Data }
func (b ByteBuffer) MutableBytes() []byte { return b.Data }
func (b ByteBuffer) Count() int64         { return int64(len(b.Data)) }
func (b ByteBuffer) MakePack() any        { return nil }
func (b ByteBuffer) MakeUnpack() any      { return nil }

// Int32Buffer is a contiguous []int32 datatype. Count is the byte
// length (len(Data) * 4), matching the "count() returns len ·
// element_size" convention every primitive numeric Buffer follows.
type Int32Buffer struct {
	Data []int32
}

func (b Int32Buffer) Bytes() []byte        { return int32ToBytes(b.Data) }
func (b Int32Buffer) MutableBytes() []byte { return int32ToBytes(b.Data) }
func (b Int32Buffer) Count() int64         { return int64(len(b.Data)) * 4 }
func (b Int32Buffer) MakePack() any        { return nil }
func (b Int32Buffer) MakeUnpack() any      { return nil }

// Float64Buffer is a contiguous []float64 datatype. Count is the byte
// length (len(Data) * 8).
type Float64Buffer struct {
	Data []float64
}

func (b Float64Buffer) Bytes() []byte        { return float64ToBytes(b.Data) }
func (b Float64Buffer) MutableBytes() []byte { return float64ToBytes(b.Data) }
func (b Float64Buffer) Count() int64         { return int64(len(b.Data)) * 8 }
func (b Float64Buffer) MakePack() any        { return nil }
func (b Float64Buffer) MakeUnpack() any      { return nil }

func int32ToBytes(data []int32) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
}

func float64ToBytes(data []float64) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*8)
}
