package message

// Fault is a terminal error surfaced by a Message's Status. Kind
// mirrors the root package's error-kind strings exactly, so the
// Context layer can translate it into an *mpigo.Error without this
// package importing the root package (which would be a cycle, since
// the root package imports this one).
type Fault struct {
	Kind string
	Msg  string
}

func (f *Fault) Error() string { return f.Msg }

const (
	KindPackError       = "pack_error"
	KindUnpackError     = "unpack_error"
	KindPackedSizeError = "packed_size_error"
	KindStateError      = "state_error"
	KindRegionError     = "region_error"
	KindTransportError  = "transport_error"
)

func newFault(kind, msg string) *Fault { return &Fault{Kind: kind, Msg: msg} }
