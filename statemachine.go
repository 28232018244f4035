package basp

import (
	"context"
	"fmt"
)

// ConnState is the per-connection receive automaton's current state,
// returned by every entry point so the broker knows what to read next.
type ConnState uint8

const (
	AwaitHeader ConnState = iota
	AwaitPayload
	CloseConnection
)

func (s ConnState) String() string {
	switch s {
	case AwaitHeader:
		return "await_header"
	case AwaitPayload:
		return "await_payload"
	case CloseConnection:
		return "close_connection"
	default:
		return "unknown_state"
	}
}

// ErrProtocolViolation covers cases DecodeHeader/Valid do not: a
// payload delivered with no header pending, or a payload whose length
// does not match the header that announced it.
var ErrProtocolViolation = fmt.Errorf("basp: protocol violation")

// HandleStream is the stream transport's entry point. isPayload is
// false when data is exactly one HeaderSize header, true when data is
// the payload the previous call's AwaitPayload return promised.
func (i *Instance) HandleStream(ctx context.Context, handle Handle, isPayload bool, data []byte) (ConnState, error) {
	if !isPayload {
		if len(data) != HeaderSize {
			return i.decodeReject(handle, fmt.Errorf("%w: header chunk has length %d, want %d", ErrProtocolViolation, len(data), HeaderSize))
		}
		h, err := DecodeHeader(data)
		if err != nil {
			return i.decodeReject(handle, err)
		}
		if !Valid(h) {
			return i.decodeReject(handle, ErrMalformedHeader)
		}
		if h.PayloadLen == 0 {
			return i.dispatchFrame(ctx, handle, h, nil, 0)
		}
		i.mu.Lock()
		i.pending[handle] = h
		i.mu.Unlock()
		return AwaitPayload, nil
	}

	i.mu.Lock()
	h, ok := i.pending[handle]
	delete(i.pending, handle)
	i.mu.Unlock()
	if !ok {
		return i.decodeReject(handle, fmt.Errorf("%w: payload with no pending header", ErrProtocolViolation))
	}
	if uint32(len(data)) != h.PayloadLen {
		return i.decodeReject(handle, fmt.Errorf("%w: payload has length %d, want %d", ErrProtocolViolation, len(data), h.PayloadLen))
	}
	return i.dispatchFrame(ctx, handle, h, data, 0)
}

// NextRead reports how many bytes a broker driving HandleStream should
// read before its next call: HeaderSize while awaiting a header, or
// the pending frame's declared payload length while awaiting one. Not
// part of the core state machine itself (the automaton only needs to
// know it is in AwaitPayload) but a broker doing real two-phase framing
// needs the count, and the pending header is already this instance's
// state to consult.
func (i *Instance) NextRead(handle Handle) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if h, ok := i.pending[handle]; ok {
		return int(h.PayloadLen)
	}
	return HeaderSize
}

// CloseHandle tears down whatever route handle held and purges the
// node it named, for use by a broker when the underlying connection
// drops outside of a state-machine-driven close (EOF, reset, timeout).
func (i *Instance) CloseHandle(handle Handle) {
	i.table.EraseHandle(handle, i.purge)
	i.mu.Lock()
	delete(i.pending, handle)
	i.mu.Unlock()
}

// purge is the RoutingTable.PurgeFunc every Erase call in this file
// uses: it fires RouteErased alongside the callee's own PurgeState so
// the two stay in lockstep with how the route actually disappeared.
func (i *Instance) purge(node NodeID) {
	i.hooks.routeErased(node)
	i.callee.PurgeState(node)
}

// HandleDatagram is the datagram transport's entry point: data may
// contain one or more concatenated (header, payload) frames, all
// delivered in a single call since a datagram arrives whole. localPort
// is the local port the datagram arrived on, used to answer a UDP
// client handshake with this node's publication at that port.
func (i *Instance) HandleDatagram(ctx context.Context, handle Handle, localPort uint16, data []byte) (bool, error) {
	off := 0
	for off < len(data) {
		if len(data)-off < HeaderSize {
			_, err := i.decodeReject(handle, fmt.Errorf("%w: trailing %d bytes short of a header", ErrProtocolViolation, len(data)-off))
			return false, err
		}
		h, err := DecodeHeader(data[off : off+HeaderSize])
		if err != nil {
			_, rerr := i.decodeReject(handle, err)
			return false, rerr
		}
		if !Valid(h) {
			_, rerr := i.decodeReject(handle, ErrMalformedHeader)
			return false, rerr
		}
		off += HeaderSize

		if len(data)-off < int(h.PayloadLen) {
			_, rerr := i.decodeReject(handle, fmt.Errorf("%w: payload_len %d exceeds remaining %d bytes", ErrProtocolViolation, h.PayloadLen, len(data)-off))
			return false, rerr
		}
		payload := data[off : off+int(h.PayloadLen)]
		off += int(h.PayloadLen)

		if !isHandshake(h.Operation) && h.Operation != OpHeartbeat && h.DestNode != i.thisNode {
			// The datagram entry never forwards; a frame addressed
			// elsewhere is a protocol error here.
			_, rerr := i.decodeReject(handle, fmt.Errorf("%w: datagram frame addressed to %s, not this node", ErrProtocolViolation, h.DestNode))
			return false, rerr
		}

		state, err := i.handleOperation(ctx, handle, h, payload, localPort)
		if err != nil {
			return false, err
		}
		if state == CloseConnection {
			return false, nil
		}
	}
	return true, nil
}

// dispatchFrame is the shared tail of both entry points once a full
// (header, payload) pair is in hand: forward it if it names another
// node, otherwise run the operation handler.
func (i *Instance) dispatchFrame(ctx context.Context, handle Handle, h Header, payload []byte, localPort uint16) (ConnState, error) {
	if !isHandshake(h.Operation) && h.Operation != OpHeartbeat && h.DestNode != i.thisNode {
		return i.forward(h, payload)
	}
	return i.handleOperation(ctx, handle, h, payload, localPort)
}

// forward re-emits h and payload, byte for byte, onto the write buffer
// of the route to h.DestNode. Failure to find a route does not close
// the connection the frame arrived on — only the forward itself fails.
// On that failure it also checks whether it has a direct route back to
// h.SourceNode, observing the result via ReverseRouteChecked; the
// reference implementation this is grounded on leaves what to do with
// that information as an open TODO ("signalize error back to sending
// node"), so this module stops at the observation and does not
// synthesize or send an error frame.
func (i *Instance) forward(h Header, payload []byte) (ConnState, error) {
	ep, ok := i.table.Lookup(h.DestNode)
	if !ok {
		_, reverseOK := i.table.Lookup(h.SourceNode)
		i.hooks.reverseRouteChecked(h.SourceNode, reverseOK)
		i.hooks.messageForwardingFailed(h.DestNode)
		return AwaitHeader, nil
	}
	var encoded [HeaderSize]byte
	EncodeHeader(h, encoded[:])
	ep.Buf.Append(encoded[:])
	ep.Buf.Append(payload)
	if err := i.table.Flush(ep); err != nil {
		i.hooks.messageForwardingFailed(h.DestNode)
		return AwaitHeader, nil
	}
	i.hooks.messageForwarded(h.DestNode)
	return AwaitHeader, nil
}

// handleOperation runs the per-operation logic for a frame addressed
// to this node (or a handshake/heartbeat, which are always local).
func (i *Instance) handleOperation(ctx context.Context, handle Handle, h Header, payload []byte, localPort uint16) (ConnState, error) {
	switch h.Operation {
	case OpServerHandshake, OpUDPServerHandshake:
		return i.handleServerHandshake(handle, h, payload)
	case OpClientHandshake, OpUDPClientHandshake:
		return i.handleClientHandshake(handle, h, payload, localPort)
	case OpDispatchMessage:
		return i.handleDispatchMessage(ctx, handle, h, payload)
	case OpAnnounceProxy:
		i.callee.ProxyAnnounced(h.SourceNode, h.DestActor)
		return AwaitHeader, nil
	case OpKillProxy:
		return i.handleKillProxy(handle, h, payload)
	case OpHeartbeat:
		i.callee.HandleHeartbeat(h.SourceNode)
		return AwaitHeader, nil
	default:
		return i.decodeReject(handle, fmt.Errorf("%w: unhandled operation %s", ErrMalformedHeader, h.Operation))
	}
}

func (i *Instance) handleServerHandshake(handle Handle, h Header, payload []byte) (ConnState, error) {
	hp, err := DecodeServerHandshake(payload)
	if err != nil {
		return i.decodeReject(handle, err)
	}
	if hp.AppIdentifier != i.callee.AppIdentifier() {
		return i.semanticReject(handle, h.SourceNode, fmt.Errorf("basp: app identifier mismatch"))
	}
	if i.cfg.RejectVersionMismatch && h.OperationData != i.cfg.ProtocolVersion {
		return i.semanticReject(handle, h.SourceNode, fmt.Errorf("basp: protocol version mismatch"))
	}

	if h.SourceNode == i.thisNode {
		// Loopback handshake: complete it for the caller's bookkeeping,
		// then drop the connection — there is nothing to route to.
		i.callee.FinalizeHandshake(h.SourceNode, hp.PublishedActor, hp.Interfaces)
		i.hooks.handshakeCompleted(h.SourceNode)
		return CloseConnection, nil
	}
	if _, exists := i.table.LookupHandle(h.SourceNode); exists {
		// Duplicate: a direct route to this node is already live.
		i.callee.FinalizeHandshake(h.SourceNode, hp.PublishedActor, hp.Interfaces)
		i.hooks.handshakeCompleted(h.SourceNode)
		return CloseConnection, nil
	}
	if err := i.table.Add(handle, h.SourceNode); err != nil {
		// Lost a race to install the route; treat like the duplicate case.
		i.callee.FinalizeHandshake(h.SourceNode, hp.PublishedActor, hp.Interfaces)
		i.hooks.handshakeCompleted(h.SourceNode)
		return CloseConnection, nil
	}
	i.hooks.routeInstalled(h.SourceNode)

	ep, ok := i.table.Lookup(h.SourceNode)
	if ok {
		if h.Operation == OpServerHandshake {
			i.WriteClientHandshake(ep.Buf)
		}
		i.callee.LearnedNewNodeDirectly(h.SourceNode)
		i.callee.FinalizeHandshake(h.SourceNode, hp.PublishedActor, hp.Interfaces)
		i.hooks.handshakeCompleted(h.SourceNode)
		i.table.Flush(ep)
	}
	return AwaitHeader, nil
}

func (i *Instance) handleClientHandshake(handle Handle, h Header, payload []byte, localPort uint16) (ConnState, error) {
	if _, exists := i.table.LookupHandle(h.SourceNode); exists {
		// Second handshake on an already-routed node: ignored, not an error.
		return AwaitHeader, nil
	}
	cp, err := DecodeClientHandshake(payload)
	if err != nil {
		return i.decodeReject(handle, err)
	}
	if cp.AppIdentifier != i.callee.AppIdentifier() {
		return i.semanticReject(handle, h.SourceNode, fmt.Errorf("basp: app identifier mismatch"))
	}
	if i.cfg.RejectVersionMismatch && h.OperationData != i.cfg.ProtocolVersion {
		return i.semanticReject(handle, h.SourceNode, fmt.Errorf("basp: protocol version mismatch"))
	}
	if err := i.table.Add(handle, h.SourceNode); err != nil {
		return i.semanticReject(handle, h.SourceNode, err)
	}
	i.hooks.routeInstalled(h.SourceNode)
	i.callee.LearnedNewNodeDirectly(h.SourceNode)
	i.hooks.handshakeCompleted(h.SourceNode)

	if h.Operation == OpUDPClientHandshake {
		if ep, ok := i.table.Lookup(h.SourceNode); ok {
			i.WriteUDPServerHandshake(ep.Buf, localPort)
			i.table.Flush(ep)
		}
	}
	return AwaitHeader, nil
}

func (i *Instance) handleDispatchMessage(ctx context.Context, handle Handle, h Header, payload []byte) (ConnState, error) {
	named := h.HasNamedReceiver()
	dp, err := DecodeDispatch(payload, named)
	if err != nil {
		return i.decodeReject(handle, err)
	}
	if named {
		i.callee.Deliver(ctx, h.SourceNode, h.SourceActor, InvalidActorID, dp.Receiver, h.OperationData, dp.ForwardingStack, dp.Message)
	} else {
		i.callee.Deliver(ctx, h.SourceNode, h.SourceActor, h.DestActor, 0, h.OperationData, dp.ForwardingStack, dp.Message)
	}
	return AwaitHeader, nil
}

func (i *Instance) handleKillProxy(handle Handle, h Header, payload []byte) (ConnState, error) {
	kp, err := DecodeKillProxy(payload)
	if err != nil {
		return i.decodeReject(handle, err)
	}
	i.callee.KillProxy(h.SourceNode, h.SourceActor, kp.Reason)
	return AwaitHeader, nil
}

// decodeReject handles a structurally malformed header or payload: the
// node associated with handle, if any, is purged and the handle's
// route is torn down.
func (i *Instance) decodeReject(handle Handle, err error) (ConnState, error) {
	i.table.EraseHandle(handle, i.purge)
	i.mu.Lock()
	delete(i.pending, handle)
	i.mu.Unlock()
	return CloseConnection, err
}

// semanticReject handles a structurally valid frame rejected for
// protocol reasons (app-id mismatch, version mismatch): node is purged
// explicitly since, unlike decodeReject, we know its identity even
// though no route was ever installed for it.
func (i *Instance) semanticReject(handle Handle, node NodeID, err error) (ConnState, error) {
	if !node.IsNone() {
		i.callee.PurgeState(node)
		i.hooks.handshakeRejected(node)
	}
	i.table.EraseHandle(handle, func(n NodeID) {
		if n != node {
			i.purge(n)
		}
	})
	i.mu.Lock()
	delete(i.pending, handle)
	i.mu.Unlock()
	return CloseConnection, err
}
