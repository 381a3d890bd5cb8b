package message

import "sync"

// bucket sizes for the staging-buffer pool. A request is served from
// the smallest bucket that fits it, so pooled buffers are reused
// across differently-sized messages without fragmenting into one
// pool per exact size.
var bucketSizes = []int{128 * 1024, 256 * 1024, 512 * 1024, 1024 * 1024}

var pools = func() []*sync.Pool {
	ps := make([]*sync.Pool, len(bucketSizes))
	for i, size := range bucketSizes {
		size := size
		ps[i] = &sync.Pool{New: func() any {
			b := make([]byte, size)
			return &b
		}}
	}
	return ps
}()

// getBuffer returns a []byte of length exactly size. Allocations at or
// under the largest bucket are served from a pool; larger requests
// allocate directly, and size 0 (or less) returns nil. The returned slice's address is
// stable for as long as the caller holds the reference — callers that
// pin it into a transport iovec must not call putBuffer until after
// the transport has observed completion.
func getBuffer(size int64) []byte {
	if size <= 0 {
		return nil
	}
	for i, bs := range bucketSizes {
		if int(size) <= bs {
			buf := *(pools[i].Get().(*[]byte))
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// putBuffer returns buf to its bucket pool if it was sized by
// getBuffer from one; larger-than-bucket buffers are simply dropped
// for the GC to reclaim.
func putBuffer(buf []byte) {
	c := cap(buf)
	for i, bs := range bucketSizes {
		if c == bs {
			full := buf[:bs]
			pools[i].Put(&full)
			return
		}
	}
}
