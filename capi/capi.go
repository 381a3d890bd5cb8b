//go:build cgo

// Package main exposes mpigo's C ABI shim (§4.H): a stable extern "C"
// surface mirroring a practical MPI subset, adapting foreign
// function-pointer vtables into mpigo.Buffer/pack-method instances and
// owning a single process-global Context. Build with
// `go build -buildmode=c-archive` (or c-shared) to link into a C
// application.
package main

/*
#include <stdint.h>
#include <stddef.h>

typedef int (*mpigo_state_fn)(void *context, const void *buf, size_t count, void **out_state);
typedef int (*mpigo_state_free_fn)(void *state);
typedef int (*mpigo_query_fn)(void *state, const void *buf, size_t count, size_t *out_packed_size);
typedef int (*mpigo_pack_fn)(void *state, const void *buf, size_t count, size_t offset, void *dst, size_t dst_cap, size_t *out_used);
typedef int (*mpigo_unpack_fn)(void *state, void *buf, size_t count, size_t offset, const void *src, size_t src_len);
typedef int (*mpigo_region_count_fn)(void *state, const void *buf, size_t count, size_t *out_region_count);
typedef int (*mpigo_regions_fn)(void *state, const void *buf, size_t count, size_t region_count, size_t *lengths_out, void **bases_out, int *types_out);

static inline int mpigo_call_state(mpigo_state_fn fn, void *context, const void *buf, size_t count, void **out_state) {
    return fn(context, buf, count, out_state);
}
static inline int mpigo_call_state_free(mpigo_state_free_fn fn, void *state) {
    return fn(state);
}
static inline int mpigo_call_query(mpigo_query_fn fn, void *state, const void *buf, size_t count, size_t *out_packed_size) {
    return fn(state, buf, count, out_packed_size);
}
static inline int mpigo_call_pack(mpigo_pack_fn fn, void *state, const void *buf, size_t count, size_t offset, void *dst, size_t dst_cap, size_t *out_used) {
    return fn(state, buf, count, offset, dst, dst_cap, out_used);
}
static inline int mpigo_call_unpack(mpigo_unpack_fn fn, void *state, void *buf, size_t count, size_t offset, const void *src, size_t src_len) {
    return fn(state, buf, count, offset, src, src_len);
}
static inline int mpigo_call_region_count(mpigo_region_count_fn fn, void *state, const void *buf, size_t count, size_t *out_region_count) {
    return fn(state, buf, count, out_region_count);
}
static inline int mpigo_call_regions(mpigo_regions_fn fn, void *state, const void *buf, size_t count, size_t region_count, size_t *lengths_out, void **bases_out, int *types_out) {
    return fn(state, buf, count, region_count, lengths_out, bases_out, types_out);
}
*/
import "C"

import (
	"os"
	"strconv"
	"sync"
	"time"
	"unsafe"

	"github.com/behrlich/mpigo"
	"github.com/behrlich/mpigo/internal/bootstrap/fileboot"
	"github.com/behrlich/mpigo/internal/packmethod"
	"github.com/behrlich/mpigo/internal/transport/tcptag"
)

func main() {} // required by c-archive/c-shared build modes; never invoked.

// Datatype ids, per §9's resolved Open Question: BYTE = 1 and all ids
// <= MaxPredefined are reserved as built-ins. Custom ids are assigned
// monotonically starting at MaxPredefined + 1.
const (
	Byte          = 1
	MaxPredefined = 1
)

const (
	success     = 0
	errInternal = 1
)

// world is the process-global Context slot (§4.H, §5): written once
// by mpigo_init, read by every other shim call, cleared by
// mpigo_finalize. It is not safe for concurrent MPI-like calls, by
// contract.
var world struct {
	mu        sync.Mutex
	ctx       *mpigo.Context
	startTime time.Time
	datatypes []customDatatype
	// inflight holds per-request adapter state awaiting state_free,
	// keyed by the handle returned to the C caller. A request is
	// inserted at isend/irecv time and removed (and its state freed)
	// once waitall observes a terminal status.
	inflight map[int]*capiPackMethod
}

type customDatatype struct {
	statefn       C.mpigo_state_fn
	stateFreefn   C.mpigo_state_free_fn
	queryfn       C.mpigo_query_fn
	packfn        C.mpigo_pack_fn
	unpackfn      C.mpigo_unpack_fn
	regionCountfn C.mpigo_region_count_fn
	regionsfn     C.mpigo_regions_fn
	context       unsafe.Pointer
}

//export mpigo_init
func mpigo_init() C.int {
	world.mu.Lock()
	defer world.mu.Unlock()

	rank, _ := strconv.Atoi(os.Getenv("MPIGO_RANK"))
	size, _ := strconv.Atoi(os.Getenv("MPIGO_WORLD_SIZE"))
	dir := os.Getenv("MPIGO_BOOTSTRAP_DIR")
	listenAddr := os.Getenv("MPIGO_LISTEN_ADDR")
	if size <= 0 || dir == "" || listenAddr == "" {
		return errInternal
	}

	boot, err := fileboot.New(dir, rank, size)
	if err != nil {
		return errInternal
	}
	worker, err := tcptag.NewWorker(listenAddr)
	if err != nil {
		return errInternal
	}

	ctx, err := mpigo.Init(boot, worker, mpigo.Config{})
	if err != nil {
		return errInternal
	}

	world.ctx = ctx
	world.startTime = time.Now()
	world.datatypes = nil
	world.inflight = make(map[int]*capiPackMethod)
	return success
}

//export mpigo_wtime
func mpigo_wtime() C.double {
	world.mu.Lock()
	start := world.startTime
	world.mu.Unlock()
	if start.IsZero() {
		return 0
	}
	return C.double(time.Since(start).Seconds())
}

//export mpigo_finalize
func mpigo_finalize() C.int {
	world.mu.Lock()
	defer world.mu.Unlock()

	if world.ctx == nil {
		return errInternal
	}
	err := world.ctx.Finalize()
	world.ctx = nil
	world.datatypes = nil
	world.inflight = nil
	if err != nil {
		return errInternal
	}
	return success
}

//export mpigo_comm_size
func mpigo_comm_size(out *C.int) C.int {
	world.mu.Lock()
	defer world.mu.Unlock()
	if world.ctx == nil {
		return errInternal
	}
	*out = C.int(world.ctx.Size())
	return success
}

//export mpigo_comm_rank
func mpigo_comm_rank(out *C.int) C.int {
	world.mu.Lock()
	defer world.mu.Unlock()
	if world.ctx == nil {
		return errInternal
	}
	*out = C.int(world.ctx.Rank())
	return success
}

//export mpigo_barrier
func mpigo_barrier() C.int {
	world.mu.Lock()
	ctx := world.ctx
	world.mu.Unlock()
	if ctx == nil {
		return errInternal
	}
	if err := ctx.Barrier(); err != nil {
		return errInternal
	}
	return success
}

//export mpigo_type_create_custom
func mpigo_type_create_custom(
	statefn C.mpigo_state_fn,
	stateFreefn C.mpigo_state_free_fn,
	queryfn C.mpigo_query_fn,
	packfn C.mpigo_pack_fn,
	unpackfn C.mpigo_unpack_fn,
	regionCountfn C.mpigo_region_count_fn,
	regionsfn C.mpigo_regions_fn,
	cCtx unsafe.Pointer,
	outDatatype *C.int,
) C.int {
	world.mu.Lock()
	defer world.mu.Unlock()

	world.datatypes = append(world.datatypes, customDatatype{
		statefn:       statefn,
		stateFreefn:   stateFreefn,
		queryfn:       queryfn,
		packfn:        packfn,
		unpackfn:      unpackfn,
		regionCountfn: regionCountfn,
		regionsfn:     regionsfn,
		context:       cCtx,
	})
	*outDatatype = C.int(MaxPredefined + len(world.datatypes))
	return success
}

func lookupDatatype(id int) (customDatatype, bool) {
	if id <= MaxPredefined {
		return customDatatype{}, false
	}
	i := id - MaxPredefined - 1
	if i < 0 || i >= len(world.datatypes) {
		return customDatatype{}, false
	}
	return world.datatypes[i], true
}

// buildBuffer adapts a raw (ptr, count, datatype) triple from the C
// surface into an mpigo.Buffer. For BYTE it's a direct ByteBuffer
// (count is a byte count); for a registered custom datatype it
// constructs a capiPackMethod, which also owns the per-message state
// returned by the datatype's state() callback.
func buildBuffer(datatype int, ptr unsafe.Pointer, count int) (mpigo.Buffer, *capiPackMethod, error) {
	if datatype == Byte {
		return mpigo.ByteBuffer{Data: unsafe.Slice((*byte)(ptr), count)}, nil, nil
	}
	dt, ok := lookupDatatype(datatype)
	if !ok {
		return nil, nil, errUnknownDatatype
	}
	var state unsafe.Pointer
	if dt.statefn != nil {
		ret := C.mpigo_call_state(dt.statefn, dt.context, ptr, C.size_t(count), &state)
		if ret != 0 {
			return nil, nil, errStateError
		}
	}
	method := &capiPackMethod{dt: dt, state: state, ptr: ptr, count: count}
	return method, method, nil
}

// capiPackMethod adapts a custom datatype's C vtable into the
// packmethod.Streamer/Unstreamer/RegionProvider interfaces and doubles
// as an mpigo.Buffer (its MakePack/MakeUnpack return itself).
type capiPackMethod struct {
	dt    customDatatype
	state unsafe.Pointer
	ptr   unsafe.Pointer
	count int
}

func (m *capiPackMethod) Bytes() []byte        { return nil }
func (m *capiPackMethod) MutableBytes() []byte { return nil }
func (m *capiPackMethod) Count() int64         { return int64(m.count) }
func (m *capiPackMethod) MakePack() any        { return m }
func (m *capiPackMethod) MakeUnpack() any      { return m }

func (m *capiPackMethod) PackedSize() (int64, error) {
	if m.dt.queryfn == nil {
		return 0, nil
	}
	var size C.size_t
	ret := C.mpigo_call_query(m.dt.queryfn, m.state, m.ptr, C.size_t(m.count), &size)
	if ret != 0 {
		return 0, errPackedSizeError
	}
	return int64(size), nil
}

func (m *capiPackMethod) Pack(offset int64, dst []byte) (int, error) {
	if m.dt.packfn == nil || len(dst) == 0 {
		return 0, nil
	}
	var used C.size_t
	ret := C.mpigo_call_pack(m.dt.packfn, m.state, m.ptr, C.size_t(m.count),
		C.size_t(offset), unsafe.Pointer(&dst[0]), C.size_t(len(dst)), &used)
	if ret != 0 {
		return 0, errPackError
	}
	return int(used), nil
}

func (m *capiPackMethod) Unpack(offset int64, src []byte) error {
	if m.dt.unpackfn == nil || len(src) == 0 {
		return nil
	}
	ret := C.mpigo_call_unpack(m.dt.unpackfn, m.state, m.ptr, C.size_t(m.count),
		C.size_t(offset), unsafe.Pointer(&src[0]), C.size_t(len(src)))
	if ret != 0 {
		return errUnpackError
	}
	return nil
}

func (m *capiPackMethod) Regions() ([]packmethod.Region, error) {
	if m.dt.regionCountfn == nil || m.dt.regionsfn == nil {
		return nil, nil
	}
	var regionCount C.size_t
	ret := C.mpigo_call_region_count(m.dt.regionCountfn, m.state, m.ptr, C.size_t(m.count), &regionCount)
	if ret != 0 {
		return nil, errRegionError
	}
	if regionCount == 0 {
		return nil, nil
	}

	lengths := make([]C.size_t, regionCount)
	bases := make([]unsafe.Pointer, regionCount)
	types := make([]C.int, regionCount)
	ret = C.mpigo_call_regions(m.dt.regionsfn, m.state, m.ptr, C.size_t(m.count), regionCount,
		&lengths[0], &bases[0], &types[0])
	if ret != 0 {
		return nil, errRegionError
	}

	out := make([]packmethod.Region, regionCount)
	for i := range out {
		out[i] = packmethod.Region(unsafe.Slice((*byte)(bases[i]), int(lengths[i])))
	}
	return out, nil
}

// freeState releases the per-message state via the datatype's
// state_free callback. Go has no destructors, so the shim calls this
// explicitly once a request reaches a terminal status rather than
// relying on garbage collection to reclaim caller-owned state.
func (m *capiPackMethod) freeState() {
	if m.state != nil && m.dt.stateFreefn != nil {
		C.mpigo_call_state_free(m.dt.stateFreefn, m.state)
		m.state = nil
	}
}

var (
	errUnknownDatatype = newShimError("unknown datatype id")
	errStateError      = newShimError("state callback failed")
	errPackedSizeError = newShimError("query callback failed")
	errPackError       = newShimError("pack callback failed")
	errUnpackError     = newShimError("unpack callback failed")
	errRegionError     = newShimError("region callback failed")
)

type shimError struct{ msg string }

func newShimError(msg string) *shimError { return &shimError{msg: msg} }
func (e *shimError) Error() string       { return e.msg }

//export mpigo_isend
func mpigo_isend(buf unsafe.Pointer, count C.int, datatype C.int, dest C.int, tag C.int, outRequest *C.int) C.int {
	world.mu.Lock()
	defer world.mu.Unlock()
	if world.ctx == nil {
		return errInternal
	}

	buffer, method, err := buildBuffer(int(datatype), buf, int(count))
	if err != nil {
		return errInternal
	}
	req, err := world.ctx.Isend(int(dest), buffer, int32(tag))
	if err != nil {
		return errInternal
	}
	if method != nil {
		world.inflight[int(req)] = method
	}
	*outRequest = C.int(req)
	return success
}

//export mpigo_irecv
func mpigo_irecv(buf unsafe.Pointer, count C.int, datatype C.int, source C.int, tag C.int, outRequest *C.int) C.int {
	world.mu.Lock()
	defer world.mu.Unlock()
	if world.ctx == nil {
		return errInternal
	}

	buffer, method, err := buildBuffer(int(datatype), buf, int(count))
	if err != nil {
		return errInternal
	}
	req, err := world.ctx.Irecv(int(source), buffer, int32(tag))
	if err != nil {
		return errInternal
	}
	if method != nil {
		world.inflight[int(req)] = method
	}
	*outRequest = C.int(req)
	return success
}

//export mpigo_waitall
func mpigo_waitall(count C.int, requests *C.int) C.int {
	world.mu.Lock()
	defer world.mu.Unlock()
	if world.ctx == nil {
		return errInternal
	}

	n := int(count)
	cReqs := unsafe.Slice(requests, n)
	handles := make([]mpigo.Request, n)
	for i, r := range cReqs {
		handles[i] = mpigo.Request(r)
	}

	results := world.ctx.Waitall(handles)
	failed := false
	for _, h := range handles {
		if method, ok := world.inflight[int(h)]; ok {
			method.freeState()
			delete(world.inflight, int(h))
		}
	}
	for _, r := range results {
		if r.Status == mpigo.StatusError {
			failed = true
		}
	}
	if failed {
		return errInternal
	}
	return success
}

//export mpigo_send
func mpigo_send(buf unsafe.Pointer, count C.int, datatype C.int, dest C.int, tag C.int) C.int {
	var req C.int
	if ret := mpigo_isend(buf, count, datatype, dest, tag, &req); ret != success {
		return ret
	}
	return mpigo_waitall(1, &req)
}

//export mpigo_recv
func mpigo_recv(buf unsafe.Pointer, count C.int, datatype C.int, source C.int, tag C.int) C.int {
	var req C.int
	if ret := mpigo_irecv(buf, count, datatype, source, tag, &req); ret != success {
		return ret
	}
	return mpigo_waitall(1, &req)
}
