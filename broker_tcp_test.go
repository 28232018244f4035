package basp

import (
	"context"
	"net"
	"testing"
	"time"
)

// TestTCPBroker_ReadLoopTwoPhaseHeaderPayload exercises readLoop's
// header-then-payload split over a real net.Pipe connection: a
// server_handshake (header plus an app-identifier payload) is written
// on one end, and readLoop on the other end must read exactly
// HeaderSize bytes, see AwaitPayload, then read exactly the declared
// payload length before the handshake finalizes and a route installs.
func TestTCPBroker_ReadLoopTwoPhaseHeaderPayload(t *testing.T) {
	nodeA, nodeB := NodeID{1}, NodeID{2}
	sender, err := New(nodeA, newTestCallee("app1"), &nopBroker{}, nil)
	if err != nil {
		t.Fatalf("New sender: %v", err)
	}

	calleeB := newTestCallee("app1")
	instB, err := New(nodeB, calleeB, newRecordingBroker(), nil)
	if err != nil {
		t.Fatalf("New B: %v", err)
	}

	broker := NewTCPBroker()
	broker.BindInstance(instB)

	client, server := net.Pipe()
	defer client.Close()

	handle := broker.register(server)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		broker.readLoop(ctx, server, handle)
		close(done)
	}()

	buf := &MemBuffer{}
	sender.WriteServerHandshake(buf, 0)
	frame := buf.Bytes()
	if len(frame) <= HeaderSize {
		t.Fatalf("expected a handshake payload beyond the header, got %d bytes", len(frame))
	}

	writeErr := make(chan error, 1)
	go func() { _, err := client.Write(frame); writeErr <- err }()
	if err := <-writeErr; err != nil {
		t.Fatalf("write handshake frame: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for instB.RoutingTable().RouteCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for handshake to finalize, route count = %d", instB.RoutingTable().RouteCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if fin, _, _, _ := calleeB.count(); fin != 1 {
		t.Errorf("B finalized %d times, want 1", fin)
	}

	client.Close()
	<-done

	if _, err := broker.WriteBuffer(handle); err == nil {
		t.Error("expected handle to be deregistered once readLoop returns")
	}
}

// TestTCPBroker_ReadLoopClosesConnectionOnStateMachineClose feeds a
// duplicate server_handshake through readLoop for a node already
// routed under a different handle — the same rejection S2 exercises
// directly against the state machine — and checks the broker actually
// tears the connection down: the socket closes, the handle is
// deregistered from the broker, and CloseHandle runs (broker_tcp.go's
// readLoop defer) even though this handle held no route to purge.
func TestTCPBroker_ReadLoopClosesConnectionOnStateMachineClose(t *testing.T) {
	nodeA, nodeB := NodeID{1}, NodeID{2}
	sender, err := New(nodeA, newTestCallee("app1"), &nopBroker{}, nil)
	if err != nil {
		t.Fatalf("New sender: %v", err)
	}

	calleeB := newTestCallee("app1")
	instB, err := New(nodeB, calleeB, newRecordingBroker(), nil)
	if err != nil {
		t.Fatalf("New B: %v", err)
	}
	if err := instB.RoutingTable().Add(Handle{Kind: StreamHandle, ID: 999}, nodeA); err != nil {
		t.Fatalf("pre-install route: %v", err)
	}

	broker := NewTCPBroker()
	broker.BindInstance(instB)

	client, server := net.Pipe()
	defer client.Close()

	handle := broker.register(server)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		broker.readLoop(ctx, server, handle)
		close(done)
	}()

	buf := &MemBuffer{}
	sender.WriteServerHandshake(buf, 0)
	go client.Write(buf.Bytes())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for readLoop to return after a duplicate handshake")
	}

	if _, err := broker.WriteBuffer(handle); err == nil {
		t.Error("expected handle to be deregistered after CloseConnection")
	}
	if instB.RoutingTable().RouteCount() != 1 {
		t.Errorf("route count = %d, want 1 (the pre-installed route, untouched)", instB.RoutingTable().RouteCount())
	}
	if fin, _, _, _ := calleeB.count(); fin != 1 {
		t.Errorf("B finalized %d times, want 1 (duplicate handshake still finalizes for bookkeeping)", fin)
	}
}

// TestTCPBroker_CloseHandlePurgesRouteOnPeerHangup drives a full
// handshake over net.Pipe so the connection's own handle owns a route,
// then closes the client side to simulate an unexpected disconnect.
// readLoop's defer must call Instance.CloseHandle, which erases the
// route and purges the node through the callee.
func TestTCPBroker_CloseHandlePurgesRouteOnPeerHangup(t *testing.T) {
	nodeA, nodeB := NodeID{1}, NodeID{2}
	sender, err := New(nodeA, newTestCallee("app1"), &nopBroker{}, nil)
	if err != nil {
		t.Fatalf("New sender: %v", err)
	}

	calleeB := newTestCallee("app1")
	instB, err := New(nodeB, calleeB, newRecordingBroker(), nil)
	if err != nil {
		t.Fatalf("New B: %v", err)
	}

	broker := NewTCPBroker()
	broker.BindInstance(instB)

	client, server := net.Pipe()
	handle := broker.register(server)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		broker.readLoop(ctx, server, handle)
		close(done)
	}()

	buf := &MemBuffer{}
	sender.WriteServerHandshake(buf, 0)
	go client.Write(buf.Bytes())

	deadline := time.After(2 * time.Second)
	for instB.RoutingTable().RouteCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for handshake, route count = %d", instB.RoutingTable().RouteCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for readLoop to return after peer hangup")
	}

	deadline = time.After(2 * time.Second)
	for instB.RoutingTable().RouteCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("route count = %d after hangup, want 0", instB.RoutingTable().RouteCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if _, purged, _, _ := calleeB.count(); purged != 1 {
		t.Errorf("purged %d nodes on hangup, want 1", purged)
	}
}
