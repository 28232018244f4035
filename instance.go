package basp

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ProtocolVersion is carried in operation_data on every handshake frame.
// A peer whose version differs is rejected — see instanceConfig.RejectVersionMismatch.
const ProtocolVersion uint64 = 1

// Clock supplies the timestamp New's default heartbeat path stamps onto
// outgoing heartbeat frames. Swappable in tests; production code gets
// systemClock, which rides CoarseNow instead of a syscall per tick.
type Clock interface {
	Now() int64
}

type systemClock struct{}

func (systemClock) Now() int64 { return CoarseNow() }

// instanceConfig bundles the instance's fixed knobs. Grounded on the
// teacher's functional-options hostConfig, trimmed to what the protocol
// engine itself needs (the rest — inbox sizing, admin address, and so
// on — are concerns of the process embedding an Instance, not the
// instance). AppIdentifier is deliberately absent here: it is sourced
// from Callee.AppIdentifier(), since the callee is what the handshake
// path already asks for it and a second, possibly-divergent copy in
// config would just invite drift.
type instanceConfig struct {
	ProtocolVersion       uint64
	RejectVersionMismatch bool
	HeartbeatInterval     time.Duration
	Clock                 Clock
}

func defaultInstanceConfig() instanceConfig {
	return instanceConfig{
		ProtocolVersion:       ProtocolVersion,
		RejectVersionMismatch: true,
		HeartbeatInterval:     15 * time.Second,
		Clock:                 systemClock{},
	}
}

// Option configures an Instance at construction time.
type Option func(*instanceConfig)

// WithProtocolVersion overrides the protocol version this instance
// advertises and expects from peers.
func WithProtocolVersion(v uint64) Option {
	return func(c *instanceConfig) { c.ProtocolVersion = v }
}

// WithRejectVersionMismatch controls whether a handshake with a
// mismatched version is rejected outright, resolving the Open Question
// left implicit in the source: the reference only checks version via
// the header's structural validity predicate, which never actually
// examines operation_data. This implementation checks explicitly.
func WithRejectVersionMismatch(reject bool) Option {
	return func(c *instanceConfig) { c.RejectVersionMismatch = reject }
}

// WithHeartbeatInterval sets the interval HeartbeatInterval reports to
// a caller running its own heartbeat ticker. The core performs no
// scheduling of its own — see cmd/basp-demo's heartbeatLoop for the
// caller-owned ticker this configures.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *instanceConfig) { c.HeartbeatInterval = d }
}

// WithClock overrides the clock HandleHeartbeat consults when stamping
// outgoing heartbeat frames' operation_data with a send timestamp.
func WithClock(c Clock) Option {
	return func(cfg *instanceConfig) { cfg.Clock = c }
}

// Instance is the per-node protocol engine: this node's identity, its
// routing table, its published-actors registry, and the connection
// state machines for every handle currently talking to it. It is the
// single type upper-layer code constructs and drives.
type Instance struct {
	cfg      instanceConfig
	thisNode NodeID
	callee   Callee
	hooks    *Hooks
	table    *RoutingTable

	mu        sync.Mutex
	published *publishedActors
	pending   map[Handle]Header // handle -> decoded header, while awaiting its payload
}

// New constructs an Instance for thisNode, dispatching into callee and
// backed by broker for write buffers. hooks may be nil.
func New(thisNode NodeID, callee Callee, broker Broker, hooks *Hooks, opts ...Option) (*Instance, error) {
	if thisNode.IsNone() {
		return nil, fmt.Errorf("basp: this_node must not be none")
	}
	cfg := defaultInstanceConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Instance{
		cfg:       cfg,
		thisNode:  thisNode,
		callee:    callee,
		hooks:     hooks,
		table:     NewRoutingTable(broker),
		published: newPublishedActors(),
		pending:   make(map[Handle]Header),
	}, nil
}

func (i *Instance) ThisNode() NodeID {
	return i.thisNode
}

func (i *Instance) RoutingTable() *RoutingTable {
	return i.table
}

// Dispatch implements the Instance Facade's dispatch operation: send an
// application message to receiver, recording sender and the forwarding
// stack accumulated so far. sender may be NoAddress, in which case
// this_node with an invalid actor id is used. Returns false (and fires
// MessageSendingFailed) if no route to receiver.Node exists.
func (i *Instance) Dispatch(ctx context.Context, sender ActorAddress, stack []ActorAddress, receiver ActorAddress, messageID uint64, message []byte) bool {
	if receiver.Node == i.thisNode {
		panic("basp: Dispatch called with receiver on this_node")
	}
	ep, ok := i.table.Lookup(receiver.Node)
	if !ok {
		i.hooks.messageSendingFailed(receiver.Node)
		return false
	}
	if sender.IsNone() {
		sender = ActorAddress{Node: i.thisNode, Actor: InvalidActorID}
	}
	h := Header{
		Operation:     OpDispatchMessage,
		OperationData: messageID,
		SourceNode:    sender.Node,
		DestNode:      receiver.Node,
		SourceActor:   sender.Actor,
		DestActor:     receiver.Actor,
	}
	WriteFrame(ep.Buf, h, func(buf WriteBuffer) {
		EncodeDispatch(buf, false, DispatchPayload{ForwardingStack: stack, Message: message})
	})
	if err := i.table.Flush(ep); err != nil {
		i.hooks.messageSendingFailed(receiver.Node)
		return false
	}
	i.hooks.messageDispatched(receiver.Node)
	return true
}

// DispatchNamed is Dispatch's named-receiver variant: destNode names
// the target node but the receiving actor is resolved by an atom
// rather than an id.
func (i *Instance) DispatchNamed(ctx context.Context, sender ActorAddress, stack []ActorAddress, destNode NodeID, receiver uint64, messageID uint64, message []byte) bool {
	if destNode == i.thisNode {
		panic("basp: DispatchNamed called with destNode == this_node")
	}
	ep, ok := i.table.Lookup(destNode)
	if !ok {
		i.hooks.messageSendingFailed(destNode)
		return false
	}
	if sender.IsNone() {
		sender = ActorAddress{Node: i.thisNode, Actor: InvalidActorID}
	}
	h := Header{
		Operation:     OpDispatchMessage,
		Flags:         FlagNamedReceiver,
		OperationData: messageID,
		SourceNode:    sender.Node,
		DestNode:      destNode,
		SourceActor:   sender.Actor,
		DestActor:     InvalidActorID,
	}
	WriteFrame(ep.Buf, h, func(buf WriteBuffer) {
		EncodeDispatch(buf, true, DispatchPayload{Receiver: receiver, ForwardingStack: stack, Message: message})
	})
	if err := i.table.Flush(ep); err != nil {
		i.hooks.messageSendingFailed(destNode)
		return false
	}
	i.hooks.messageDispatched(destNode)
	return true
}

// HeartbeatInterval reports the interval a caller running its own
// heartbeat ticker should use — see WithHeartbeatInterval.
func (i *Instance) HeartbeatInterval() time.Duration {
	return i.cfg.HeartbeatInterval
}

// HandleHeartbeat writes and flushes an empty-payload heartbeat frame
// to every currently-direct peer, stamping operation_data with the
// configured Clock's current timestamp so a receiver keeping its own
// last-seen bookkeeping has a send time to record.
func (i *Instance) HandleHeartbeat(ctx context.Context) {
	sentAt := uint64(i.cfg.Clock.Now())
	for _, node := range i.table.DirectNodes() {
		ep, ok := i.table.Lookup(node)
		if !ok {
			continue
		}
		h := Header{Operation: OpHeartbeat, OperationData: sentAt, SourceNode: i.thisNode, DestNode: node}
		WriteFrame(ep.Buf, h, nil)
		if err := i.table.Flush(ep); err != nil {
			continue
		}
		i.hooks.heartbeatSent(node)
	}
}

// HandleNodeShutdown erases node's route (if any) and purges state for
// it and any node reachable only through it. A none node is a no-op.
func (i *Instance) HandleNodeShutdown(node NodeID) {
	if node.IsNone() {
		return
	}
	i.table.EraseNode(node, i.purge)
}

// AddPublishedActor publishes actor at port with the given interface
// set, notifying ActorPublished.
func (i *Instance) AddPublishedActor(port uint16, actor ActorID, interfaces []string) {
	i.mu.Lock()
	i.published.add(port, actor, interfaces)
	i.mu.Unlock()
	i.hooks.actorPublished(port, actor)
}

// RemovePublishedActorAtPort removes the publication at port, if any.
func (i *Instance) RemovePublishedActorAtPort(port uint16) {
	i.mu.Lock()
	i.published.removePort(port)
	i.mu.Unlock()
}

// RemovePublishedActor removes every port publishing actor when port
// is zero, or just that one port otherwise.
func (i *Instance) RemovePublishedActor(actor ActorID, port uint16) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if port == 0 {
		i.published.removeActor(actor)
		return
	}
	if a, ok := i.published.byPort[port]; ok && a.actor == actor {
		i.published.removePort(port)
	}
}

func (i *Instance) lookupPublished(port uint16) (ActorID, []string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.published.lookup(port)
}

// WriteServerHandshake writes a server_handshake frame onto buf,
// announcing the actor published at port (if any).
func (i *Instance) WriteServerHandshake(buf WriteBuffer, port uint16) {
	actor, interfaces, _ := i.lookupPublished(port)
	h := Header{Operation: OpServerHandshake, OperationData: i.cfg.ProtocolVersion, SourceNode: i.thisNode}
	WriteFrame(buf, h, func(w WriteBuffer) {
		EncodeServerHandshake(w, HandshakePayload{AppIdentifier: i.callee.AppIdentifier(), PublishedActor: actor, Interfaces: interfaces})
	})
}

// WriteClientHandshake writes a client_handshake frame onto buf.
func (i *Instance) WriteClientHandshake(buf WriteBuffer) {
	h := Header{Operation: OpClientHandshake, OperationData: i.cfg.ProtocolVersion, SourceNode: i.thisNode}
	WriteFrame(buf, h, func(w WriteBuffer) {
		EncodeClientHandshake(w, ClientHandshakePayload{AppIdentifier: i.callee.AppIdentifier()})
	})
}

// WriteUDPServerHandshake writes a udp_server_handshake frame onto buf.
func (i *Instance) WriteUDPServerHandshake(buf WriteBuffer, port uint16) {
	actor, interfaces, _ := i.lookupPublished(port)
	h := Header{Operation: OpUDPServerHandshake, OperationData: i.cfg.ProtocolVersion, SourceNode: i.thisNode}
	WriteFrame(buf, h, func(w WriteBuffer) {
		EncodeServerHandshake(w, HandshakePayload{AppIdentifier: i.callee.AppIdentifier(), PublishedActor: actor, Interfaces: interfaces})
	})
}

// WriteUDPClientHandshake writes a udp_client_handshake frame onto buf.
func (i *Instance) WriteUDPClientHandshake(buf WriteBuffer) {
	h := Header{Operation: OpUDPClientHandshake, OperationData: i.cfg.ProtocolVersion, SourceNode: i.thisNode}
	WriteFrame(buf, h, func(w WriteBuffer) {
		EncodeClientHandshake(w, ClientHandshakePayload{AppIdentifier: i.callee.AppIdentifier()})
	})
}

// WriteAnnounceProxy writes an announce_proxy frame (empty payload)
// naming actor as the proxy dest names, addressed to destNode.
func (i *Instance) WriteAnnounceProxy(buf WriteBuffer, destNode NodeID, actor ActorID) {
	h := Header{Operation: OpAnnounceProxy, SourceNode: i.thisNode, DestNode: destNode, DestActor: actor}
	WriteFrame(buf, h, nil)
}

// WriteKillProxy writes a kill_proxy frame naming actor as gone, for
// the given reason.
func (i *Instance) WriteKillProxy(buf WriteBuffer, destNode NodeID, actor ActorID, reason string) {
	h := Header{Operation: OpKillProxy, SourceNode: i.thisNode, DestNode: destNode, SourceActor: actor}
	WriteFrame(buf, h, func(w WriteBuffer) {
		EncodeKillProxy(w, KillProxyPayload{Reason: reason})
	})
}

// WriteHeartbeat writes a heartbeat frame (empty payload) onto buf.
func (i *Instance) WriteHeartbeat(buf WriteBuffer, destNode NodeID) {
	h := Header{Operation: OpHeartbeat, SourceNode: i.thisNode, DestNode: destNode}
	WriteFrame(buf, h, nil)
}
