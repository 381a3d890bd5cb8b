// Package mpigo is a point-to-point messaging runtime compatible with
// a subset of the MPI programming model. Its distinguishing feature
// is a custom-datatype message engine that negotiates, per message,
// between three transfer strategies — strictly contiguous transfer,
// staged pack/unpack through an application-supplied streaming
// serializer, and scatter/gather transfer directly against the
// user's own memory regions — and composes them into a single
// vectored send/receive over an underlying reliable tag-matched
// transport.
//
// A World group is brought up with Init, which wires together a
// bootstrap (rank/size/address exchange) and a transport worker
// (tag-matched send/recv) supplied by the caller; internal/bootstrap
// and internal/transport each offer more than one concrete
// implementation. Application code describes payloads as a Buffer,
// posts them with Isend/Irecv, and drives completion with Waitall,
// which is also the only place progress is made — this runtime has no
// background thread.
package mpigo
