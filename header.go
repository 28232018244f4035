package basp

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed on-wire width of a Header, in bytes:
//
//	operation        1
//	flags            1
//	payload_len      4
//	operation_data   8
//	source_node     16
//	dest_node       16
//	source_actor     4
//	dest_actor       4
//	                --
//	                54
//
// Fields are big-endian; this is the "host-independent binary" framing
// spec.md §4.1 asks implementers to freeze.
const HeaderSize = 1 + 1 + 4 + 8 + nodeIDSize + nodeIDSize + 4 + 4

// Header is the fixed frame header preceding every payload on the wire.
type Header struct {
	Operation     Operation
	Flags         uint8
	PayloadLen    uint32
	OperationData uint64
	SourceNode    NodeID
	DestNode      NodeID
	SourceActor   ActorID
	DestActor     ActorID
}

// HasNamedReceiver reports whether the named-receiver flag is set.
func (h Header) HasNamedReceiver() bool {
	return h.Flags&FlagNamedReceiver != 0
}

// ErrMalformedHeader is returned by DecodeHeader when the operation tag is
// unknown or a reserved flag bit is set.
var ErrMalformedHeader = fmt.Errorf("basp: malformed header")

// EncodeHeader writes h into out, which must be exactly HeaderSize bytes.
// Encoding a well-formed Header never fails; out's length is the caller's
// responsibility (it panics on a short slice, matching the fixed-header
// contract the wire format promises).
func EncodeHeader(h Header, out []byte) {
	if len(out) != HeaderSize {
		panic(fmt.Sprintf("basp: EncodeHeader: out has length %d, want %d", len(out), HeaderSize))
	}
	out[0] = byte(h.Operation)
	out[1] = h.Flags
	binary.BigEndian.PutUint32(out[2:6], h.PayloadLen)
	binary.BigEndian.PutUint64(out[6:14], h.OperationData)
	off := 14
	copy(out[off:off+nodeIDSize], h.SourceNode[:])
	off += nodeIDSize
	copy(out[off:off+nodeIDSize], h.DestNode[:])
	off += nodeIDSize
	binary.BigEndian.PutUint32(out[off:off+4], uint32(h.SourceActor))
	off += 4
	binary.BigEndian.PutUint32(out[off:off+4], uint32(h.DestActor))
}

// DecodeHeader parses exactly HeaderSize bytes of in into a Header. It
// fails if in is the wrong length, the operation tag is unknown, or a
// reserved flag bit is set — the same predicate Valid applies, checked
// early so callers never observe a Header with an invalid operation.
func DecodeHeader(in []byte) (Header, error) {
	if len(in) != HeaderSize {
		return Header{}, fmt.Errorf("%w: length %d, want %d", ErrMalformedHeader, len(in), HeaderSize)
	}
	h := Header{
		Operation:     Operation(in[0]),
		Flags:         in[1],
		PayloadLen:    binary.BigEndian.Uint32(in[2:6]),
		OperationData: binary.BigEndian.Uint64(in[6:14]),
	}
	off := 14
	copy(h.SourceNode[:], in[off:off+nodeIDSize])
	off += nodeIDSize
	copy(h.DestNode[:], in[off:off+nodeIDSize])
	off += nodeIDSize
	h.SourceActor = ActorID(binary.BigEndian.Uint32(in[off : off+4]))
	off += 4
	h.DestActor = ActorID(binary.BigEndian.Uint32(in[off : off+4]))

	if !knownOperation(h.Operation) {
		return Header{}, fmt.Errorf("%w: unknown operation %d", ErrMalformedHeader, h.Operation)
	}
	if h.Flags&^knownFlagBits != 0 {
		return Header{}, fmt.Errorf("%w: reserved flag bits set: %#x", ErrMalformedHeader, h.Flags)
	}
	return h, nil
}

// Valid applies the structural validity predicate from spec.md §3: a
// known operation, no reserved flag bits, and payload_len consistent with
// operations that must carry an empty body.
func Valid(h Header) bool {
	if !knownOperation(h.Operation) {
		return false
	}
	if h.Flags&^knownFlagBits != 0 {
		return false
	}
	if payloadRequiredEmpty(h.Operation) && h.PayloadLen != 0 {
		return false
	}
	return true
}
