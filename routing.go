package basp

import (
	"fmt"
	"sync"
)

// ErrDuplicateRoute is returned by RoutingTable.Add when the node already
// has a direct route. The caller (the connection state machine) decides
// what to do about it — the table itself stays authoritative on the
// existing route and does not overwrite it.
var ErrDuplicateRoute = fmt.Errorf("basp: node already has a direct route")

// Endpoint is what a successful RoutingTable lookup returns: the handle to
// write to, its write buffer, and the next hop (always the looked-up node
// itself for a direct route — the field exists so indirect routes, which
// resolve through another node, share the same return shape).
type Endpoint struct {
	Handle  Handle
	Buf     WriteBuffer
	NextHop NodeID
}

// RoutingTable maintains the bidirectional node<->handle mapping described
// in spec.md §4.2. It keeps two indexes in lockstep (by-node and
// by-handle) and reserves, but does not populate on the current dispatch
// path, indirect routes (node -> next-hop node) per spec.md's Open
// Questions.
type RoutingTable struct {
	broker Broker

	mu       sync.Mutex
	byNode   map[NodeID]Handle
	byHandle map[Handle]NodeID
	indirect map[NodeID]NodeID // node -> next-hop node; unused by dispatch today
}

// NewRoutingTable creates an empty table backed by broker, which supplies
// per-handle write buffers and flush.
func NewRoutingTable(broker Broker) *RoutingTable {
	return &RoutingTable{
		broker:   broker,
		byNode:   make(map[NodeID]Handle),
		byHandle: make(map[Handle]NodeID),
		indirect: make(map[NodeID]NodeID),
	}
}

// Add installs a direct route from node to handle. If node already has a
// direct route, Add returns ErrDuplicateRoute and leaves the table
// unchanged — idempotent on identity: calling Add again with the same
// (handle, node) pair that is already installed is not an error.
func (t *RoutingTable) Add(handle Handle, node NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byNode[node]; ok {
		if existing == handle {
			return nil
		}
		return ErrDuplicateRoute
	}
	t.byNode[node] = handle
	t.byHandle[handle] = node
	delete(t.indirect, node)
	return nil
}

// Lookup returns the endpoint for node's direct route, or false if none
// exists.
func (t *RoutingTable) Lookup(node NodeID) (Endpoint, bool) {
	t.mu.Lock()
	handle, ok := t.byNode[node]
	t.mu.Unlock()
	if !ok {
		return Endpoint{}, false
	}
	buf, err := t.broker.WriteBuffer(handle)
	if err != nil {
		return Endpoint{}, false
	}
	return Endpoint{Handle: handle, Buf: buf, NextHop: node}, true
}

// LookupHandle returns the direct-route handle for node, if any.
func (t *RoutingTable) LookupHandle(node NodeID) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byNode[node]
	return h, ok
}

// LookupNode returns the node routed through handle, if any.
func (t *RoutingTable) LookupNode(handle Handle) (NodeID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byHandle[handle]
	return n, ok
}

// PurgeFunc is invoked once per node identity whose only path is removed
// by an Erase call, so the upper layer can drop state keyed by that node
// (proxies, pending sends).
type PurgeFunc func(node NodeID)

// EraseHandle removes handle's direct route (if any) and calls purge for
// the node it named. Also drops any indirect route whose next hop was
// that node, purging those nodes too.
func (t *RoutingTable) EraseHandle(handle Handle, purge PurgeFunc) {
	t.mu.Lock()
	node, ok := t.byHandle[handle]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.byHandle, handle)
	delete(t.byNode, node)
	orphaned := t.dropIndirectVia(node)
	t.mu.Unlock()

	if purge != nil {
		purge(node)
		for _, n := range orphaned {
			purge(n)
		}
	}
}

// EraseNode removes node's direct route (if any) and calls purge for it.
func (t *RoutingTable) EraseNode(node NodeID, purge PurgeFunc) {
	t.mu.Lock()
	handle, ok := t.byNode[node]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.byNode, node)
	delete(t.byHandle, handle)
	orphaned := t.dropIndirectVia(node)
	t.mu.Unlock()

	if purge != nil {
		purge(node)
		for _, n := range orphaned {
			purge(n)
		}
	}
}

// dropIndirectVia removes every indirect route whose next hop is
// nextHop, returning the node identities affected. Must be called with
// t.mu held.
func (t *RoutingTable) dropIndirectVia(nextHop NodeID) []NodeID {
	var orphaned []NodeID
	for n, hop := range t.indirect {
		if hop == nextHop {
			delete(t.indirect, n)
			orphaned = append(orphaned, n)
		}
	}
	return orphaned
}

// Flush instructs the broker to emit ep's buffered bytes.
func (t *RoutingTable) Flush(ep Endpoint) error {
	return t.broker.Flush(ep.Handle)
}

// DirectNodes returns a snapshot of every node currently reachable via a
// direct route. Used by heartbeat fan-out.
func (t *RoutingTable) DirectNodes() []NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	nodes := make([]NodeID, 0, len(t.byNode))
	for n := range t.byNode {
		nodes = append(nodes, n)
	}
	return nodes
}

// DirectRoutes returns a snapshot of every direct route as node/handle
// pairs. Used by the admin surface's routes listing.
func (t *RoutingTable) DirectRoutes() map[NodeID]Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[NodeID]Handle, len(t.byNode))
	for n, h := range t.byNode {
		out[n] = h
	}
	return out
}

// RouteCount returns the number of direct routes currently installed.
func (t *RoutingTable) RouteCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byNode)
}
