package basp

import (
	"context"
	"net"
	"testing"
	"time"
)

// TestUDPBroker_FlushRejectsOversizedDatagram checks udpMaxDatagram is
// enforced before a send is attempted, without needing a bound socket:
// Flush returns before it ever touches b.conn.
func TestUDPBroker_FlushRejectsOversizedDatagram(t *testing.T) {
	broker := NewUDPBroker()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	handle := broker.PeerHandle(addr)

	wb, err := broker.WriteBuffer(handle)
	if err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	wb.Append(make([]byte, udpMaxDatagram+1))

	if err := broker.Flush(handle); err == nil {
		t.Error("expected Flush to reject a datagram exceeding udpMaxDatagram")
	}
}

// TestUDPBroker_ListenAndServeRoundTrip drives a real udp_client_handshake
// through UDPBroker.ListenAndServe over loopback sockets: the read loop
// must register the sender's address as a Handle, hand the datagram to
// the instance, and Flush the resulting udp_server_handshake reply back
// out under udpMaxDatagram, ending with a direct route installed.
func TestUDPBroker_ListenAndServeRoundTrip(t *testing.T) {
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

	broker := NewUDPBroker()
	broker.BindInstance(instB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- broker.ListenAndServe(ctx, "127.0.0.1:0")
	}()

	var serverAddr *net.UDPAddr
	deadline := time.After(2 * time.Second)
	for serverAddr == nil {
		broker.mu.Lock()
		if broker.conn != nil {
			serverAddr = broker.conn.LocalAddr().(*net.UDPAddr)
		}
		broker.mu.Unlock()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for UDPBroker to bind")
		case <-time.After(5 * time.Millisecond):
		}
	}

	client, err := net.DialUDP("udp", nil, serverAddr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	buf := &MemBuffer{}
	sender.WriteUDPClientHandshake(buf)
	if _, err := client.Write(buf.Bytes()); err != nil {
		t.Fatalf("write client handshake: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply := make([]byte, 64*1024)
	n, err := client.Read(reply)
	if err != nil {
		t.Fatalf("expected a udp_server_handshake reply: %v", err)
	}
	if n < HeaderSize {
		t.Fatalf("reply of %d bytes is shorter than a header", n)
	}
	replyHeader, err := DecodeHeader(reply[:HeaderSize])
	if err != nil {
		t.Fatalf("decode reply header: %v", err)
	}
	if replyHeader.Operation != OpUDPServerHandshake {
		t.Errorf("reply operation = %s, want %s", replyHeader.Operation, OpUDPServerHandshake)
	}

	if instB.RoutingTable().RouteCount() != 1 {
		t.Errorf("B route count = %d, want 1", instB.RoutingTable().RouteCount())
	}
	if fin, _, _, _ := calleeB.count(); fin != 0 {
		t.Errorf("B finalized %d times, want 0 (client handshake path learns, it does not finalize)", fin)
	}

	cancel()
	<-serveErr
}
