package basp

import "strconv"

// HandleKind tags a Handle as belonging to a stream (TCP-like) or datagram
// (UDP-like) transport. The routing table dispatches write-buffer and
// flush operations on this tag rather than through open interface
// inheritance, per spec.md's Design Notes on polymorphic handle dispatch.
type HandleKind uint8

const (
	StreamHandle HandleKind = iota
	DatagramHandle
)

func (k HandleKind) String() string {
	switch k {
	case StreamHandle:
		return "stream"
	case DatagramHandle:
		return "datagram"
	default:
		return "unknown"
	}
}

// Handle is an opaque, broker-assigned identifier for one connection. The
// core never dials or accepts sockets itself — a Handle is simply the key
// under which the owning Broker can be asked to buffer and flush bytes.
type Handle struct {
	Kind HandleKind
	ID   uint64
}

func (h Handle) String() string {
	return h.Kind.String() + "#" + strconv.FormatUint(h.ID, 10)
}
