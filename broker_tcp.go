package basp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// tcpDialTimeout bounds net.DialTimeout when connecting to a peer.
const tcpDialTimeout = 5 * time.Second

// tcpReadTimeout is the deadline refreshed before every read. A peer
// that stops sending entirely (rather than cleanly closing) is reaped
// after this long.
const tcpReadTimeout = 60 * time.Second

// tcpWriteTimeout bounds every conn.Write issued by Flush.
const tcpWriteTimeout = 5 * time.Second

// tcpConn is one TCP connection's outbound buffer plus the socket it
// eventually gets flushed to. It implements WriteBuffer directly so
// TCPBroker.WriteBuffer can hand it straight to the write path.
type tcpConn struct {
	conn   net.Conn
	handle Handle

	mu  sync.Mutex
	buf []byte
}

func (c *tcpConn) Append(p []byte) {
	c.mu.Lock()
	c.buf = append(c.buf, p...)
	c.mu.Unlock()
}

func (c *tcpConn) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

func (c *tcpConn) PatchAt(pos int, p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos < 0 || pos+len(p) > len(c.buf) {
		panic(fmt.Sprintf("basp: PatchAt out of range: pos=%d len=%d bufLen=%d", pos, len(p), len(c.buf)))
	}
	copy(c.buf[pos:pos+len(p)], p)
}

func (c *tcpConn) flush() error {
	c.mu.Lock()
	data := c.buf
	c.buf = nil
	c.mu.Unlock()
	if len(data) == 0 {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout))
	_, err := c.conn.Write(data)
	return err
}

// TCPBroker is a Broker backed by real TCP sockets: one goroutine per
// connection reads frames and drives an Instance's stream entry point,
// while outbound bytes accumulate on a per-connection buffer that
// Flush writes out in one syscall. Grounded on the teacher's Transport
// (per-peer state in a registry, one reader goroutine per connection,
// deadline-bounded reads/writes) with its actor-hosting framing and
// handshake replaced by BASP's own two-phase header/payload read and
// protocol-level handshake — the broker here is deliberately dumb
// about anything above raw bytes.
type TCPBroker struct {
	inst *Instance

	mu    sync.Mutex
	conns map[Handle]*tcpConn
	seq   atomic.Uint64
}

// NewTCPBroker creates a broker not yet bound to an Instance. Call
// BindInstance before Listen or Dial.
func NewTCPBroker() *TCPBroker {
	return &TCPBroker{conns: make(map[Handle]*tcpConn)}
}

// BindInstance wires the broker to the Instance whose stream entry
// point every accepted or dialed connection will drive. Must be called
// exactly once, before any Listen/Dial.
func (b *TCPBroker) BindInstance(inst *Instance) {
	b.inst = inst
}

func (b *TCPBroker) WriteBuffer(h Handle) (WriteBuffer, error) {
	b.mu.Lock()
	c, ok := b.conns[h]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("basp: tcp broker: unknown handle %s", h)
	}
	return c, nil
}

// RemoteAddr returns the remote network address of the connection
// behind h, if it is still registered. Lets a caller that dialed or
// accepted a connection recover the actual socket address a handshake
// arrived over without threading an address through the Callee
// interface, which knows nodes and actors but nothing about transport.
func (b *TCPBroker) RemoteAddr(h Handle) (string, bool) {
	b.mu.Lock()
	c, ok := b.conns[h]
	b.mu.Unlock()
	if !ok {
		return "", false
	}
	return c.conn.RemoteAddr().String(), true
}

func (b *TCPBroker) Flush(h Handle) error {
	b.mu.Lock()
	c, ok := b.conns[h]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("basp: tcp broker: unknown handle %s", h)
	}
	return c.flush()
}

// Listen starts accepting connections on addr, serving each on its own
// goroutine. The returned listener's Close stops accepting new
// connections; connections already accepted continue to be served
// until they error or ctx is done.
func (b *TCPBroker) Listen(ctx context.Context, addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("basp: tcp broker: listen: %w", err)
	}
	go b.acceptLoop(ctx, ln)
	return ln, nil
}

func (b *TCPBroker) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go b.serve(ctx, conn)
	}
}

// Dial connects to addr and serves the resulting connection. The local
// Instance is expected to write a client_handshake (or the caller a
// server_handshake) onto the returned handle's buffer once the
// connection is established — Dial itself only wires the transport.
func (b *TCPBroker) Dial(ctx context.Context, addr string) (Handle, error) {
	conn, err := net.DialTimeout("tcp", addr, tcpDialTimeout)
	if err != nil {
		return Handle{}, fmt.Errorf("basp: tcp broker: dial %s: %w", addr, err)
	}
	handle := b.register(conn)
	go b.readLoop(ctx, conn, handle)
	return handle, nil
}

func (b *TCPBroker) serve(ctx context.Context, conn net.Conn) {
	handle := b.register(conn)
	b.readLoop(ctx, conn, handle)
}

func (b *TCPBroker) register(conn net.Conn) Handle {
	handle := Handle{Kind: StreamHandle, ID: b.seq.Add(1)}
	c := &tcpConn{conn: conn, handle: handle}
	b.mu.Lock()
	b.conns[handle] = c
	b.mu.Unlock()
	return handle
}

func (b *TCPBroker) readLoop(ctx context.Context, conn net.Conn, handle Handle) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer func() {
		conn.Close()
		b.mu.Lock()
		delete(b.conns, handle)
		b.mu.Unlock()
		b.inst.CloseHandle(handle)
	}()

	r := bufio.NewReaderSize(conn, 64*1024)
	header := make([]byte, HeaderSize)
	isPayload := false

	for {
		n := b.inst.NextRead(handle)
		buf := header
		if isPayload {
			buf = make([]byte, n)
		} else if n != HeaderSize {
			// Only possible if the instance forgot our pending header;
			// treat as a protocol violation and drop the connection.
			return
		}

		conn.SetReadDeadline(time.Now().Add(tcpReadTimeout))
		if _, err := io.ReadFull(r, buf); err != nil {
			if err != io.EOF {
				slog.Debug("basp: tcp broker: read error", "handle", handle, "error", err)
			}
			return
		}

		state, err := b.inst.HandleStream(ctx, handle, isPayload, buf)
		if err != nil {
			slog.Debug("basp: tcp broker: frame rejected", "handle", handle, "error", err)
		}
		switch state {
		case CloseConnection:
			return
		case AwaitPayload:
			isPayload = true
		case AwaitHeader:
			isPayload = false
		}
	}
}
