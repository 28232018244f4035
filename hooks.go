package basp

// Hooks is the observable event stream the core emits alongside its
// callee notifications. Nil methods are skipped — implementations only
// need to fill in the events they care about. Grounded on the teacher's
// Metrics counters, generalized into named events the metrics package
// wires straight into expvar (see metrics.go).
type Hooks struct {
	MessageDispatched       func(dest NodeID)
	MessageSendingFailed    func(dest NodeID)
	MessageForwarded        func(dest NodeID)
	MessageForwardingFailed func(dest NodeID)
	ActorPublished          func(port uint16, actor ActorID)
	HandshakeCompleted      func(node NodeID)
	HandshakeRejected       func(node NodeID)
	HeartbeatSent           func(node NodeID)
	RouteInstalled          func(node NodeID)
	RouteErased             func(node NodeID)

	// ReverseRouteChecked fires when forwarding fails for want of a
	// route to the destination and the core, in response, checks
	// whether it at least has a direct route back to the frame's
	// source — found reports whether it did. See forward in
	// statemachine.go.
	ReverseRouteChecked func(sourceNode NodeID, found bool)
}

func (h *Hooks) messageDispatched(dest NodeID) {
	if h != nil && h.MessageDispatched != nil {
		h.MessageDispatched(dest)
	}
}

func (h *Hooks) messageSendingFailed(dest NodeID) {
	if h != nil && h.MessageSendingFailed != nil {
		h.MessageSendingFailed(dest)
	}
}

func (h *Hooks) messageForwarded(dest NodeID) {
	if h != nil && h.MessageForwarded != nil {
		h.MessageForwarded(dest)
	}
}

func (h *Hooks) messageForwardingFailed(dest NodeID) {
	if h != nil && h.MessageForwardingFailed != nil {
		h.MessageForwardingFailed(dest)
	}
}

func (h *Hooks) actorPublished(port uint16, actor ActorID) {
	if h != nil && h.ActorPublished != nil {
		h.ActorPublished(port, actor)
	}
}

func (h *Hooks) handshakeCompleted(node NodeID) {
	if h != nil && h.HandshakeCompleted != nil {
		h.HandshakeCompleted(node)
	}
}

func (h *Hooks) handshakeRejected(node NodeID) {
	if h != nil && h.HandshakeRejected != nil {
		h.HandshakeRejected(node)
	}
}

func (h *Hooks) heartbeatSent(node NodeID) {
	if h != nil && h.HeartbeatSent != nil {
		h.HeartbeatSent(node)
	}
}

func (h *Hooks) routeInstalled(node NodeID) {
	if h != nil && h.RouteInstalled != nil {
		h.RouteInstalled(node)
	}
}

func (h *Hooks) routeErased(node NodeID) {
	if h != nil && h.RouteErased != nil {
		h.RouteErased(node)
	}
}

func (h *Hooks) reverseRouteChecked(sourceNode NodeID, found bool) {
	if h != nil && h.ReverseRouteChecked != nil {
		h.ReverseRouteChecked(sourceNode, found)
	}
}
