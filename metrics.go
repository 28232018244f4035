package basp

import (
	"expvar"
	"strconv"
	"sync/atomic"
)

// metricsSeq generates unique IDs for expvar namespacing across
// instances sharing a process (common in tests).
var metricsSeq atomic.Int64

// Metrics tracks operational counters for an Instance. All counters
// are lock-free (atomic int64) and published to expvar under a
// "basp.<seq>." prefix for inspection via /debug/vars. Grounded on the
// teacher's Metrics/newMetrics pattern, retargeted at the hook events
// this protocol core emits instead of actor-hosting counters.
type Metrics struct {
	MessagesDispatched       atomic.Int64
	MessagesSendingFailed    atomic.Int64
	MessagesForwarded        atomic.Int64
	MessagesForwardingFailed atomic.Int64
	ActorsPublished          atomic.Int64
	HandshakesCompleted      atomic.Int64
	HandshakesRejected       atomic.Int64
	HeartbeatsSent           atomic.Int64
	RoutesInstalled          atomic.Int64
	RoutesErased             atomic.Int64

	RoutesActiveFn func() int
}

// NewMetrics creates a Metrics instance, publishes its counters to
// expvar, and returns both the Metrics and a Hooks wired to increment
// them — pass the Hooks to New to have every dispatch and
// forward decision tracked automatically.
func NewMetrics(routesActiveFn func() int) (*Metrics, *Hooks) {
	m := &Metrics{RoutesActiveFn: routesActiveFn}

	seq := metricsSeq.Add(1)
	prefix := "basp." + strconv.FormatInt(seq, 10) + "."
	publish := func(name string, v expvar.Var) {
		expvar.Publish(prefix+name, v)
	}

	publish("messages_dispatched", atomicVar(&m.MessagesDispatched))
	publish("messages_sending_failed", atomicVar(&m.MessagesSendingFailed))
	publish("messages_forwarded", atomicVar(&m.MessagesForwarded))
	publish("messages_forwarding_failed", atomicVar(&m.MessagesForwardingFailed))
	publish("actors_published", atomicVar(&m.ActorsPublished))
	publish("handshakes_completed", atomicVar(&m.HandshakesCompleted))
	publish("handshakes_rejected", atomicVar(&m.HandshakesRejected))
	publish("heartbeats_sent", atomicVar(&m.HeartbeatsSent))
	publish("routes_installed", atomicVar(&m.RoutesInstalled))
	publish("routes_erased", atomicVar(&m.RoutesErased))
	publish("routes_active", expvar.Func(func() any {
		if m.RoutesActiveFn != nil {
			return m.RoutesActiveFn()
		}
		return 0
	}))

	hooks := &Hooks{
		MessageDispatched:       func(NodeID) { m.MessagesDispatched.Add(1) },
		MessageSendingFailed:    func(NodeID) { m.MessagesSendingFailed.Add(1) },
		MessageForwarded:        func(NodeID) { m.MessagesForwarded.Add(1) },
		MessageForwardingFailed: func(NodeID) { m.MessagesForwardingFailed.Add(1) },
		ActorPublished:          func(uint16, ActorID) { m.ActorsPublished.Add(1) },
		HandshakeCompleted:      func(NodeID) { m.HandshakesCompleted.Add(1) },
		HandshakeRejected:       func(NodeID) { m.HandshakesRejected.Add(1) },
		HeartbeatSent:           func(NodeID) { m.HeartbeatsSent.Add(1) },
		RouteInstalled:          func(NodeID) { m.RoutesInstalled.Add(1) },
		RouteErased:             func(NodeID) { m.RoutesErased.Add(1) },
	}
	return m, hooks
}

func atomicVar(v *atomic.Int64) expvar.Var {
	return expvar.Func(func() any {
		return v.Load()
	})
}

// Snapshot returns all metric values as a map, suitable for JSON
// serialization by the admin surface.
func (m *Metrics) Snapshot() map[string]int64 {
	snap := map[string]int64{
		"messages_dispatched":        m.MessagesDispatched.Load(),
		"messages_sending_failed":    m.MessagesSendingFailed.Load(),
		"messages_forwarded":         m.MessagesForwarded.Load(),
		"messages_forwarding_failed": m.MessagesForwardingFailed.Load(),
		"actors_published":           m.ActorsPublished.Load(),
		"handshakes_completed":       m.HandshakesCompleted.Load(),
		"handshakes_rejected":        m.HandshakesRejected.Load(),
		"heartbeats_sent":            m.HeartbeatsSent.Load(),
		"routes_installed":           m.RoutesInstalled.Load(),
		"routes_erased":              m.RoutesErased.Load(),
	}
	if m.RoutesActiveFn != nil {
		snap["routes_active"] = int64(m.RoutesActiveFn())
	}
	return snap
}
