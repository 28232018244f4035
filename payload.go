package basp

import (
	"encoding/binary"
	"fmt"
)

// ErrMalformedPayload is returned by decode helpers when a payload's
// bytes run out before its declared fields do, or a length prefix would
// run past the end of the buffer.
var ErrMalformedPayload = fmt.Errorf("basp: malformed payload")

// Encoder appends length-prefixed fields to a WriteBuffer. It mirrors
// the put helpers the teacher's wire codec used for its message bodies,
// generalized to BASP's payload shapes (strings, string sets, actor
// addresses, forwarding stacks).
type Encoder struct {
	buf WriteBuffer
}

func NewEncoder(buf WriteBuffer) *Encoder {
	return &Encoder{buf: buf}
}

func (e *Encoder) Bytes(p []byte) {
	e.buf.Append(p)
}

func (e *Encoder) U8(v uint8) {
	e.buf.Append([]byte{v})
}

func (e *Encoder) U32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Append(b[:])
}

func (e *Encoder) U64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Append(b[:])
}

// String writes a u32 length prefix followed by s's bytes.
func (e *Encoder) String(s string) {
	e.U32(uint32(len(s)))
	e.buf.Append([]byte(s))
}

// StringSet writes a u32 count followed by each member via String, in
// the order given. Callers that need determinism (e.g. tests) should
// sort before calling.
func (e *Encoder) StringSet(members []string) {
	e.U32(uint32(len(members)))
	for _, m := range members {
		e.String(m)
	}
}

func (e *Encoder) Address(a ActorAddress) {
	e.Bytes(a.Node[:])
	e.U32(uint32(a.Actor))
}

// ForwardingStack writes a u32 count followed by each hop via Address,
// in order from originator-adjacent to destination-adjacent.
func (e *Encoder) ForwardingStack(stack []ActorAddress) {
	e.U32(uint32(len(stack)))
	for _, a := range stack {
		e.Address(a)
	}
}

// Decoder reads fields out of a fixed byte slice in the same order an
// Encoder wrote them, tracking an offset and returning
// ErrMalformedPayload the first time a read would run past the end.
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) fail() {
	if d.err == nil {
		d.err = ErrMalformedPayload
	}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.fail()
		return nil
	}
	p := d.buf[d.off : d.off+n]
	d.off += n
	return p
}

func (d *Decoder) U8() uint8 {
	p := d.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (d *Decoder) U32() uint32 {
	p := d.take(4)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint32(p)
}

func (d *Decoder) U64() uint64 {
	p := d.take(8)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint64(p)
}

func (d *Decoder) String() string {
	n := d.U32()
	p := d.take(int(n))
	if p == nil {
		return ""
	}
	return string(p)
}

func (d *Decoder) StringSet() []string {
	n := d.U32()
	if d.err != nil {
		return nil
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, d.String())
	}
	return out
}

func (d *Decoder) Address() ActorAddress {
	var a ActorAddress
	p := d.take(nodeIDSize)
	if p != nil {
		copy(a.Node[:], p)
	}
	a.Actor = ActorID(d.U32())
	return a
}

func (d *Decoder) ForwardingStack() []ActorAddress {
	n := d.U32()
	if d.err != nil {
		return nil
	}
	out := make([]ActorAddress, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, d.Address())
	}
	return out
}

// Rest returns every byte not yet consumed, without advancing the
// offset further. Used for the opaque message body that trails a
// dispatch_message payload — its serialization is a collaborator's
// concern, not this package's.
func (d *Decoder) Rest() []byte {
	if d.err != nil {
		return nil
	}
	return d.buf[d.off:]
}

// HandshakePayload is the shared shape of server_handshake and
// udp_server_handshake bodies: the announcing node's application
// identifier, the actor it is publishing at this address (if any), and
// the set of interface names that actor answers to.
type HandshakePayload struct {
	AppIdentifier  string
	PublishedActor ActorID
	Interfaces     []string
}

func EncodeServerHandshake(buf WriteBuffer, p HandshakePayload) {
	e := NewEncoder(buf)
	e.String(p.AppIdentifier)
	e.U32(uint32(p.PublishedActor))
	e.StringSet(p.Interfaces)
}

func DecodeServerHandshake(payload []byte) (HandshakePayload, error) {
	d := NewDecoder(payload)
	p := HandshakePayload{
		AppIdentifier: d.String(),
	}
	p.PublishedActor = ActorID(d.U32())
	p.Interfaces = d.StringSet()
	return p, d.Err()
}

// ClientHandshakePayload is the body of client_handshake and
// udp_client_handshake: just the connecting node's application
// identifier, so the server can gate on it before installing a route.
type ClientHandshakePayload struct {
	AppIdentifier string
}

func EncodeClientHandshake(buf WriteBuffer, p ClientHandshakePayload) {
	NewEncoder(buf).String(p.AppIdentifier)
}

func DecodeClientHandshake(payload []byte) (ClientHandshakePayload, error) {
	d := NewDecoder(payload)
	p := ClientHandshakePayload{AppIdentifier: d.String()}
	return p, d.Err()
}

// DispatchPayload is the body of dispatch_message: an optional receiver
// atom (present when the header's named-receiver flag is set), the
// forwarding stack accumulated so far, and the opaque message bytes.
type DispatchPayload struct {
	Receiver        uint64
	ForwardingStack []ActorAddress
	Message         []byte
}

func EncodeDispatch(buf WriteBuffer, namedReceiver bool, p DispatchPayload) {
	e := NewEncoder(buf)
	if namedReceiver {
		e.U64(p.Receiver)
	}
	e.ForwardingStack(p.ForwardingStack)
	e.Bytes(p.Message)
}

func DecodeDispatch(payload []byte, namedReceiver bool) (DispatchPayload, error) {
	d := NewDecoder(payload)
	var p DispatchPayload
	if namedReceiver {
		p.Receiver = d.U64()
	}
	p.ForwardingStack = d.ForwardingStack()
	p.Message = d.Rest()
	return p, d.Err()
}

// KillProxyPayload is the body of kill_proxy: the reason the proxy's
// remote original actor is gone.
type KillProxyPayload struct {
	Reason string
}

func EncodeKillProxy(buf WriteBuffer, p KillProxyPayload) {
	NewEncoder(buf).String(p.Reason)
}

func DecodeKillProxy(payload []byte) (KillProxyPayload, error) {
	d := NewDecoder(payload)
	p := KillProxyPayload{Reason: d.String()}
	return p, d.Err()
}
