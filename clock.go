package basp

import (
	"sync/atomic"
	"time"
)

// coarseNow is a cached Unix timestamp updated every 500ms by a
// background goroutine. systemClock.Now reads it in place of
// time.Now().Unix() so Instance.HandleHeartbeat's fan-out over every
// direct peer doesn't pay a syscall per tick per peer.
var coarseNow atomic.Int64

func init() {
	coarseNow.Store(time.Now().Unix())
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		for range ticker.C {
			coarseNow.Store(time.Now().Unix())
		}
	}()
}

// CoarseNow returns the cached Unix timestamp, refreshed at 500ms
// resolution. Backs the default Clock (systemClock) an Instance stamps
// outgoing heartbeat frames with; exact wall-clock precision is not
// worth a syscall on that path.
func CoarseNow() int64 {
	return coarseNow.Load()
}
