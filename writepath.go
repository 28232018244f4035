package basp

// PayloadWriter appends a payload's bytes to buf. Implementations are
// the Encode* helpers in payload.go, partially applied over their
// operation-specific arguments.
type PayloadWriter func(buf WriteBuffer)

// WriteFrame reserves HeaderSize bytes in buf, invokes write to append
// the payload (if any), then back-patches the reserved range with the
// completed header once the payload's length is known. This is the one
// place a header's payload_len field is computed rather than supplied
// by the caller — grounded on instance::write's reserve/write/patch
// sequence: the header is never fully known until its payload has been
// serialized.
func WriteFrame(buf WriteBuffer, h Header, write PayloadWriter) {
	headerAt := buf.Len()
	var placeholder [HeaderSize]byte
	buf.Append(placeholder[:])

	payloadAt := buf.Len()
	if write != nil {
		write(buf)
	}
	h.PayloadLen = uint32(buf.Len() - payloadAt)

	var encoded [HeaderSize]byte
	EncodeHeader(h, encoded[:])
	buf.PatchAt(headerAt, encoded[:])
}
