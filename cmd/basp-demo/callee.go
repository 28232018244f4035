package main

import (
	"context"
	"log/slog"

	"github.com/topcatse/basp"
)

// echoCallee is a minimal Callee: it identifies as one application,
// logs every handshake it finalizes, forgets purged nodes in the
// optional peer directory, and pushes
// every delivered message onto an Inbox for the demo's own goroutine
// to drain and print. It has no proxy or actor lifecycle of its own —
// ProxyAnnounced/KillProxy are logged and otherwise ignored, which is
// a legitimate implementation of Callee for a process that never
// publishes proxied actors.
type echoCallee struct {
	appID string
	inbox *basp.Inbox
	dir   peerRemembering
}

// peerRemembering is the subset of directory.Store the demo needs
// (Forget from the Callee, Remember from main.go's dialPeer), kept as
// an interface here so the callee compiles and is
// testable without a live Postgres connection.
type peerRemembering interface {
	Remember(ctx context.Context, nodeID, address, appIdentifier string) error
	Forget(ctx context.Context, nodeID string) error
}

func newEchoCallee(appID string, inbox *basp.Inbox, dir peerRemembering) *echoCallee {
	return &echoCallee{appID: appID, inbox: inbox, dir: dir}
}

func (c *echoCallee) AppIdentifier() string {
	return c.appID
}

func (c *echoCallee) LearnedNewNodeDirectly(node basp.NodeID) {
	slog.Info("learned node directly", "node", node)
}

func (c *echoCallee) LearnedNewNodeIndirectly(node basp.NodeID) {
	slog.Info("learned node indirectly", "node", node)
}

func (c *echoCallee) FinalizeHandshake(node basp.NodeID, actor basp.ActorID, interfaces []string) {
	slog.Info("handshake finalized", "node", node, "published_actor", actor, "interfaces", interfaces)
	// Remembering the peer's address happens in main.go's dialPeer,
	// which knows the address it dialed; FinalizeHandshake only ever
	// learns a NodeID, never an address, so it has nothing to write here.
}

func (c *echoCallee) PurgeState(node basp.NodeID) {
	slog.Info("purging state", "node", node)
	if c.dir != nil {
		if err := c.dir.Forget(context.Background(), node.String()); err != nil {
			slog.Warn("directory: forget failed", "node", node, "error", err)
		}
	}
}

func (c *echoCallee) ProxyAnnounced(node basp.NodeID, actor basp.ActorID) {
	slog.Info("proxy announced", "node", node, "actor", actor)
}

func (c *echoCallee) KillProxy(node basp.NodeID, actor basp.ActorID, reason string) {
	slog.Info("proxy killed", "node", node, "actor", actor, "reason", reason)
}

func (c *echoCallee) Deliver(ctx context.Context, sourceNode basp.NodeID, sourceActor basp.ActorID, dest basp.ActorID, receiver uint64, messageID uint64, stack []basp.ActorAddress, message []byte) {
	msg := basp.DeliveredMessage{
		Sender:    basp.ActorAddress{Node: sourceNode, Actor: sourceActor},
		Dest:      dest,
		Receiver:  receiver,
		MessageID: messageID,
		Stack:     stack,
		Message:   message,
	}
	if err := c.inbox.Push(msg); err != nil {
		slog.Warn("inbox full, dropping delivered message", "sender", msg.Sender, "error", err)
	}
}

func (c *echoCallee) HandleHeartbeat(node basp.NodeID) {
	slog.Debug("heartbeat", "node", node)
}
