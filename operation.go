package basp

// Operation discriminates the kind of frame a header describes.
type Operation uint8

const (
	OpServerHandshake Operation = iota + 1
	OpClientHandshake
	OpUDPServerHandshake
	OpUDPClientHandshake
	OpDispatchMessage
	OpAnnounceProxy
	OpKillProxy
	OpHeartbeat
)

// String renders the operation name for logging.
func (o Operation) String() string {
	switch o {
	case OpServerHandshake:
		return "server_handshake"
	case OpClientHandshake:
		return "client_handshake"
	case OpUDPServerHandshake:
		return "udp_server_handshake"
	case OpUDPClientHandshake:
		return "udp_client_handshake"
	case OpDispatchMessage:
		return "dispatch_message"
	case OpAnnounceProxy:
		return "announce_proxy"
	case OpKillProxy:
		return "kill_proxy"
	case OpHeartbeat:
		return "heartbeat"
	default:
		return "unknown_operation"
	}
}

// knownOperation reports whether o is one of the eight defined operations.
func knownOperation(o Operation) bool {
	return o >= OpServerHandshake && o <= OpHeartbeat
}

// isHandshake reports whether op is one of the four handshake operations.
func isHandshake(op Operation) bool {
	switch op {
	case OpServerHandshake, OpClientHandshake, OpUDPServerHandshake, OpUDPClientHandshake:
		return true
	default:
		return false
	}
}

// FlagNamedReceiver is bit 0 of the header's flags byte: when set, a
// dispatch_message payload carries a receiver atom ahead of the
// forwarding stack and message.
const FlagNamedReceiver uint8 = 1 << 0

// knownFlagBits is the union of all defined flag bits. A header with any
// other bit set is structurally invalid.
const knownFlagBits uint8 = FlagNamedReceiver

// payloadRequiredEmpty reports whether op's payload must be exactly empty
// on the wire, per spec.md §4.3's payload schema table.
func payloadRequiredEmpty(op Operation) bool {
	switch op {
	case OpHeartbeat, OpAnnounceProxy:
		return true
	default:
		return false
	}
}
