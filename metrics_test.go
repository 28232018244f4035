package basp

import "testing"

func TestMetrics_HooksIncrementCounters(t *testing.T) {
	m, hooks := NewMetrics(func() int { return 3 })

	hooks.messageDispatched(NodeID{1})
	hooks.messageDispatched(NodeID{1})
	hooks.messageSendingFailed(NodeID{2})
	hooks.messageForwarded(NodeID{3})
	hooks.messageForwardingFailed(NodeID{4})
	hooks.actorPublished(9000, ActorID(1))
	hooks.handshakeCompleted(NodeID{5})
	hooks.handshakeRejected(NodeID{6})
	hooks.heartbeatSent(NodeID{1})
	hooks.routeInstalled(NodeID{1})
	hooks.routeErased(NodeID{2})

	snap := m.Snapshot()
	if snap["messages_dispatched"] != 2 {
		t.Errorf("messages_dispatched = %d, want 2", snap["messages_dispatched"])
	}
	if snap["messages_sending_failed"] != 1 {
		t.Errorf("messages_sending_failed = %d, want 1", snap["messages_sending_failed"])
	}
	if snap["messages_forwarded"] != 1 {
		t.Errorf("messages_forwarded = %d, want 1", snap["messages_forwarded"])
	}
	if snap["messages_forwarding_failed"] != 1 {
		t.Errorf("messages_forwarding_failed = %d, want 1", snap["messages_forwarding_failed"])
	}
	if snap["actors_published"] != 1 {
		t.Errorf("actors_published = %d, want 1", snap["actors_published"])
	}
	if snap["handshakes_completed"] != 1 {
		t.Errorf("handshakes_completed = %d, want 1", snap["handshakes_completed"])
	}
	if snap["handshakes_rejected"] != 1 {
		t.Errorf("handshakes_rejected = %d, want 1", snap["handshakes_rejected"])
	}
	if snap["heartbeats_sent"] != 1 {
		t.Errorf("heartbeats_sent = %d, want 1", snap["heartbeats_sent"])
	}
	if snap["routes_installed"] != 1 {
		t.Errorf("routes_installed = %d, want 1", snap["routes_installed"])
	}
	if snap["routes_erased"] != 1 {
		t.Errorf("routes_erased = %d, want 1", snap["routes_erased"])
	}
	if snap["routes_active"] != 3 {
		t.Errorf("routes_active = %d, want 3", snap["routes_active"])
	}
}

func TestMetrics_NilHooksAreNoOps(t *testing.T) {
	var hooks *Hooks
	hooks.messageDispatched(NodeID{1})
	hooks.messageSendingFailed(NodeID{1})
	hooks.messageForwarded(NodeID{1})
	hooks.messageForwardingFailed(NodeID{1})
	hooks.actorPublished(1, ActorID(1))
	hooks.handshakeCompleted(NodeID{1})
	hooks.handshakeRejected(NodeID{1})
	hooks.heartbeatSent(NodeID{1})
	hooks.routeInstalled(NodeID{1})
	hooks.routeErased(NodeID{1})
	hooks.reverseRouteChecked(NodeID{1}, false)
}
