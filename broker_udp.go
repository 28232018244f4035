package basp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// udpMaxDatagram bounds a single outbound datagram. A Flush that would
// exceed this is a caller error — the write path has no fragmentation
// story, matching the core's stance that datagram reliability is out
// of scope.
const udpMaxDatagram = 60 * 1024

// udpPeer is one remote address's outbound buffer.
type udpPeer struct {
	addr   *net.UDPAddr
	handle Handle

	mu  sync.Mutex
	buf []byte
}

func (p *udpPeer) Append(b []byte) {
	p.mu.Lock()
	p.buf = append(p.buf, b...)
	p.mu.Unlock()
}

func (p *udpPeer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

func (p *udpPeer) PatchAt(pos int, b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos < 0 || pos+len(b) > len(p.buf) {
		panic(fmt.Sprintf("basp: PatchAt out of range: pos=%d len=%d bufLen=%d", pos, len(b), len(p.buf)))
	}
	copy(p.buf[pos:pos+len(b)], b)
}

// UDPBroker is a Broker backed by a single UDP socket shared by every
// peer: each remote address gets a Handle and an outbound buffer, and
// Flush sends that buffer as one datagram (which may itself contain
// several concatenated frames, per the wire format). Grounded on the
// same per-peer registry idiom as TCPBroker, adapted for a
// connectionless transport with a single shared read loop instead of
// one goroutine per peer.
type UDPBroker struct {
	inst *Instance
	conn *net.UDPConn
	port uint16

	mu     sync.Mutex
	byAddr map[string]*udpPeer
	byHndl map[Handle]*udpPeer
	seq    atomic.Uint64
}

func NewUDPBroker() *UDPBroker {
	return &UDPBroker{
		byAddr: make(map[string]*udpPeer),
		byHndl: make(map[Handle]*udpPeer),
	}
}

func (b *UDPBroker) BindInstance(inst *Instance) {
	b.inst = inst
}

func (b *UDPBroker) WriteBuffer(h Handle) (WriteBuffer, error) {
	b.mu.Lock()
	p, ok := b.byHndl[h]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("basp: udp broker: unknown handle %s", h)
	}
	return p, nil
}

func (b *UDPBroker) Flush(h Handle) error {
	b.mu.Lock()
	p, ok := b.byHndl[h]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("basp: udp broker: unknown handle %s", h)
	}
	p.mu.Lock()
	data := p.buf
	p.buf = nil
	p.mu.Unlock()
	if len(data) == 0 {
		return nil
	}
	if len(data) > udpMaxDatagram {
		return fmt.Errorf("basp: udp broker: outbound datagram of %d bytes exceeds %d", len(data), udpMaxDatagram)
	}
	_, err := b.conn.WriteToUDP(data, p.addr)
	return err
}

// PeerHandle returns the Handle for addr, registering it if this is
// the first time it has been seen. Used both by the read loop and by
// callers that want to proactively open a handle to dial a
// udp_client_handshake before hearing from the peer first.
func (b *UDPBroker) PeerHandle(addr *net.UDPAddr) Handle {
	key := addr.String()
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.byAddr[key]; ok {
		return p.handle
	}
	handle := Handle{Kind: DatagramHandle, ID: b.seq.Add(1)}
	p := &udpPeer{addr: addr, handle: handle}
	b.byAddr[key] = p
	b.byHndl[handle] = p
	return handle
}

// ListenAndServe opens a UDP socket on addr and runs the receive loop
// until ctx is done or the socket errors. Blocking — call in its own
// goroutine.
func (b *UDPBroker) ListenAndServe(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("basp: udp broker: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("basp: udp broker: listen %s: %w", addr, err)
	}
	defer conn.Close()
	b.conn = conn
	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		b.port = uint16(la.Port)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("basp: udp broker: read: %w", err)
		}
		handle := b.PeerHandle(remote)
		frame := make([]byte, n)
		copy(frame, buf[:n])
		if ok, err := b.inst.HandleDatagram(ctx, handle, b.port, frame); !ok || err != nil {
			if err != nil {
				slog.Debug("basp: udp broker: datagram rejected", "handle", handle, "error", err)
			}
			b.mu.Lock()
			delete(b.byHndl, handle)
			delete(b.byAddr, remote.String())
			b.mu.Unlock()
		}
	}
}
