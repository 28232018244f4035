package basp

import "context"

// Callee is the upper-layer capability set the connection state machine
// dispatches into once a frame's header and payload have been decoded.
// It is the same seam CAF's basp::instance calls "callee" — the state
// machine owns wire mechanics and never touches actor state directly,
// so any actor runtime can sit behind this interface.
type Callee interface {
	// AppIdentifier is compared against a peer's handshake payload
	// before a route is installed. Peers that disagree are rejected.
	AppIdentifier() string

	// LearnedNewNodeDirectly is called the first time a node is seen
	// over a freshly-established direct connection, right after the
	// route has been added to the table.
	LearnedNewNodeDirectly(node NodeID)

	// LearnedNewNodeIndirectly mirrors LearnedNewNodeDirectly for a
	// node reached only through another node's forwarding. The core's
	// current dispatch path never installs indirect routes, so this is
	// reserved for a future routing policy rather than called today.
	LearnedNewNodeIndirectly(node NodeID)

	// FinalizeHandshake is called once a server_handshake or
	// udp_server_handshake has passed its app-identifier and version
	// checks, whether or not a new route was installed (duplicate and
	// loopback handshakes still finalize). Client handshakes never
	// finalize: they carry no published actor. actor and
	// interfaces are the peer's published actor and its interface set
	// at this address, empty when it published nothing.
	FinalizeHandshake(node NodeID, actor ActorID, interfaces []string)

	// PurgeState is called for every node identity a routing table
	// erase orphans, direct or indirect, so the upper layer can drop
	// proxies and pending sends keyed by that node.
	PurgeState(node NodeID)

	// ProxyAnnounced is called on announce_proxy: node has a local
	// proxy for actor as observed from this connection's peer.
	ProxyAnnounced(node NodeID, actor ActorID)

	// KillProxy is called on kill_proxy: the actor at (node, actor) is
	// gone; reason is the decoded error value from the payload.
	KillProxy(node NodeID, actor ActorID, reason string)

	// Deliver is called on dispatch_message once forwarding is
	// resolved to be for this node. dest is InvalidActorID when
	// receiver names an atom instead. stack is the forwarding path
	// accumulated so far, message the opaque application payload.
	Deliver(ctx context.Context, sourceNode NodeID, sourceActor ActorID, dest ActorID, receiver uint64, messageID uint64, stack []ActorAddress, message []byte)

	// HandleHeartbeat is called on every heartbeat frame received from
	// node, direct or otherwise.
	HandleHeartbeat(node NodeID)
}
