// Command basp-demo runs a single BASP node: it listens for peers,
// optionally dials one on startup, and logs every delivered message
// (JSON on stderr). It exists to give every piece of the protocol core — the
// instance, its TCP broker, its admin surface, and the optional
// Postgres-backed peer directory — a real process to run inside,
// rather than only ever being driven from tests.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/topcatse/basp"
	"github.com/topcatse/basp/directory"
)

func main() {
	var (
		listenAddr = flag.String("listen", ":4500", "address to accept BASP connections on")
		adminAddr  = flag.String("admin", ":4501", "address for the admin HTTP surface")
		peerAddr   = flag.String("peer", "", "address of a peer to dial on startup")
		appID      = flag.String("app-id", "basp-demo", "application identifier exchanged during handshake")
		publishAt  = flag.Uint("publish-port", 1, "local port to publish this node's actor 1 at")
		dsn        = flag.String("dsn", "", "Postgres DSN for the peer directory; empty disables it")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		heartbeat  = flag.Duration("heartbeat-interval", 15*time.Second, "interval between heartbeat fan-outs to direct peers")
	)
	flag.Parse()

	basp.InitLogger(parseLevel(*logLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	thisNode, err := basp.NewNodeID()
	if err != nil {
		slog.Error("failed to generate node id", "error", err)
		os.Exit(1)
	}
	slog.Info("starting basp-demo", "node", thisNode, "listen", *listenAddr, "admin", *adminAddr, "app_id", *appID)

	var dir peerRemembering
	if *dsn != "" {
		db, err := directory.Open(ctx, *dsn)
		if err != nil {
			slog.Error("directory: open failed, continuing without it", "error", err)
		} else {
			defer db.Close()
			dir = directory.NewStore(db)
		}
	}

	inbox := basp.NewInbox(1024)
	callee := newEchoCallee(*appID, inbox, dir)

	broker := basp.NewTCPBroker()

	table := (*basp.RoutingTable)(nil)
	metrics, hooks := basp.NewMetrics(func() int {
		if table == nil {
			return 0
		}
		return table.RouteCount()
	})

	inst, err := basp.New(thisNode, callee, broker, hooks, basp.WithHeartbeatInterval(*heartbeat))
	if err != nil {
		slog.Error("failed to create instance", "error", err)
		os.Exit(1)
	}
	table = inst.RoutingTable()
	broker.BindInstance(inst)

	inst.AddPublishedActor(uint16(*publishAt), basp.ActorID(1), []string{"echo"})

	ln, err := broker.Listen(ctx, *listenAddr)
	if err != nil {
		slog.Error("failed to listen", "error", err)
		os.Exit(1)
	}
	defer ln.Close()

	admin, err := basp.NewAdminServer(inst, metrics, *adminAddr)
	if err != nil {
		slog.Error("failed to start admin server", "error", err)
		os.Exit(1)
	}
	admin.Start()
	defer admin.Stop()

	if *peerAddr != "" {
		if err := dialPeer(ctx, broker, inst, dir, *appID, *peerAddr, uint16(*publishAt)); err != nil {
			slog.Error("failed to dial peer", "peer", *peerAddr, "error", err)
		}
	}

	go heartbeatLoop(ctx, inst)
	go printDelivered(ctx, inbox)

	logMetricsPeriodically(ctx, metrics)

	<-ctx.Done()
	slog.Info("shutting down")
}

func dialPeer(ctx context.Context, broker *basp.TCPBroker, inst *basp.Instance, dir peerRemembering, appID, addr string, publishPort uint16) error {
	handle, err := broker.Dial(ctx, addr)
	if err != nil {
		return err
	}
	buf, err := broker.WriteBuffer(handle)
	if err != nil {
		return err
	}
	inst.WriteServerHandshake(buf, publishPort)
	if err := broker.Flush(handle); err != nil {
		return err
	}
	go rememberDialedPeer(ctx, broker, inst, dir, handle, addr, appID)
	return nil
}

// rememberDialedPeer waits for the handshake started by dialPeer to
// resolve handle to a NodeID, then records that node against the
// address it was actually reachable at — broker.RemoteAddr(handle) if
// the connection is still up, falling back to the address we dialed.
// This is what dialPeer already knows and FinalizeHandshake does not:
// the Callee interface never receives a handle, so it has no way to
// answer "what address did this handshake arrive over".
func rememberDialedPeer(ctx context.Context, broker *basp.TCPBroker, inst *basp.Instance, dir peerRemembering, handle basp.Handle, dialedAddr, appID string) {
	if dir == nil {
		return
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(5 * time.Second)
	for {
		if node, ok := inst.RoutingTable().LookupNode(handle); ok {
			addr, ok := broker.RemoteAddr(handle)
			if !ok {
				addr = dialedAddr
			}
			if err := dir.Remember(ctx, node.String(), addr, appID); err != nil {
				slog.Warn("directory: remember failed", "node", node, "error", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
		}
	}
}

func heartbeatLoop(ctx context.Context, inst *basp.Instance) {
	ticker := time.NewTicker(inst.HeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inst.HandleHeartbeat(ctx)
		}
	}
}

func printDelivered(ctx context.Context, inbox *basp.Inbox) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, ok := inbox.Pop()
		if !ok {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		slog.Info("delivered message",
			"from", msg.Sender,
			"dest", msg.Dest,
			"receiver_atom", msg.Receiver,
			"message_id", msg.MessageID,
			"bytes", len(msg.Message),
		)
	}
}

func logMetricsPeriodically(ctx context.Context, metrics *basp.Metrics) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slog.Info("metrics snapshot", "snapshot", metrics.Snapshot())
		}
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
