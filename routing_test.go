package basp

import "testing"

// fakeBroker backs a RoutingTable in tests without any real transport.
type fakeBroker struct {
	bufs map[Handle]*MemBuffer
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{bufs: make(map[Handle]*MemBuffer)}
}

func (b *fakeBroker) WriteBuffer(h Handle) (WriteBuffer, error) {
	buf, ok := b.bufs[h]
	if !ok {
		buf = &MemBuffer{}
		b.bufs[h] = buf
	}
	return buf, nil
}

func (b *fakeBroker) Flush(h Handle) error {
	if buf, ok := b.bufs[h]; ok {
		buf.Reset()
	}
	return nil
}

func TestRoutingTable_AddAndLookup(t *testing.T) {
	table := NewRoutingTable(newFakeBroker())
	node := NodeID{1}
	handle := Handle{Kind: StreamHandle, ID: 1}

	if err := table.Add(handle, node); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ep, ok := table.Lookup(node)
	if !ok {
		t.Fatal("expected route to be found")
	}
	if ep.Handle != handle || ep.NextHop != node {
		t.Errorf("unexpected endpoint %+v", ep)
	}
}

func TestRoutingTable_AddDuplicateFromDifferentHandle(t *testing.T) {
	table := NewRoutingTable(newFakeBroker())
	node := NodeID{1}

	if err := table.Add(Handle{Kind: StreamHandle, ID: 1}, node); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := table.Add(Handle{Kind: StreamHandle, ID: 2}, node)
	if err != ErrDuplicateRoute {
		t.Errorf("expected ErrDuplicateRoute, got %v", err)
	}
}

func TestRoutingTable_AddSameHandleIsIdempotent(t *testing.T) {
	table := NewRoutingTable(newFakeBroker())
	node := NodeID{1}
	handle := Handle{Kind: StreamHandle, ID: 1}

	if err := table.Add(handle, node); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := table.Add(handle, node); err != nil {
		t.Errorf("expected re-adding the same (handle, node) to succeed, got %v", err)
	}
}

func TestRoutingTable_EraseHandlePurgesNode(t *testing.T) {
	table := NewRoutingTable(newFakeBroker())
	node := NodeID{1}
	handle := Handle{Kind: StreamHandle, ID: 1}
	table.Add(handle, node)

	var purged []NodeID
	table.EraseHandle(handle, func(n NodeID) { purged = append(purged, n) })

	if len(purged) != 1 || purged[0] != node {
		t.Errorf("purged = %v, want [%v]", purged, node)
	}
	if _, ok := table.Lookup(node); ok {
		t.Error("expected route to be gone after erase")
	}
	if _, ok := table.LookupNode(handle); ok {
		t.Error("expected handle to be unmapped after erase")
	}
}

func TestRoutingTable_EraseNode(t *testing.T) {
	table := NewRoutingTable(newFakeBroker())
	node := NodeID{2}
	handle := Handle{Kind: StreamHandle, ID: 5}
	table.Add(handle, node)

	purgedCount := 0
	table.EraseNode(node, func(NodeID) { purgedCount++ })

	if purgedCount != 1 {
		t.Errorf("purge called %d times, want 1", purgedCount)
	}
	if _, ok := table.Lookup(node); ok {
		t.Error("expected route to be gone")
	}
}

func TestRoutingTable_EraseUnknownHandleIsNoop(t *testing.T) {
	table := NewRoutingTable(newFakeBroker())
	called := false
	table.EraseHandle(Handle{Kind: StreamHandle, ID: 999}, func(NodeID) { called = true })
	if called {
		t.Error("expected purge not to be called for an unknown handle")
	}
}

func TestRoutingTable_DirectNodesAndRouteCount(t *testing.T) {
	table := NewRoutingTable(newFakeBroker())
	table.Add(Handle{Kind: StreamHandle, ID: 1}, NodeID{1})
	table.Add(Handle{Kind: StreamHandle, ID: 2}, NodeID{2})

	if table.RouteCount() != 2 {
		t.Errorf("RouteCount = %d, want 2", table.RouteCount())
	}
	nodes := table.DirectNodes()
	if len(nodes) != 2 {
		t.Errorf("DirectNodes = %v, want 2 entries", nodes)
	}
}

func TestRoutingTable_DirectRoutes(t *testing.T) {
	table := NewRoutingTable(newFakeBroker())
	handle := Handle{Kind: StreamHandle, ID: 7}
	node := NodeID{3}
	table.Add(handle, node)

	routes := table.DirectRoutes()
	if len(routes) != 1 {
		t.Fatalf("DirectRoutes = %v, want 1 entry", routes)
	}
	if routes[node] != handle {
		t.Errorf("DirectRoutes[%v] = %v, want %v", node, routes[node], handle)
	}
}

func TestRoutingTable_LookupUnknownNode(t *testing.T) {
	table := NewRoutingTable(newFakeBroker())
	if _, ok := table.Lookup(NodeID{42}); ok {
		t.Error("expected lookup of unrouted node to fail")
	}
}
