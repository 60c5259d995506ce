// ABOUTME: SyncClock contract shared by LocalSyncClock and SocketSyncClock
package syncclock

import (
	"time"

	"github.com/timingsrc/timingsrc-go/pkg/eventbus"
	"github.com/timingsrc/timingsrc-go/pkg/readystate"
)

// SyncClock maps local timestamps into a reference clock's frame via
// GetTime(local) = local + skew - delta. Implementations emit "change" on
// the bus whenever Skew or Delta actually changes value, and
// "readystatechange" on every ReadyState transition (the initial
// transition to Open is deferred so a listener attached right after
// construction still observes it).
type SyncClock interface {
	ReadyState() readystate.ReadyState
	Skew() int64 // milliseconds
	Delta() int64
	// GetTime converts a local timestamp (ms since epoch) into the
	// reference clock's frame.
	GetTime(localMs int64) int64
	// Now returns GetTime(current local time).
	Now() int64
	On(eventType string, handler eventbus.Handler) eventbus.Unsubscribe
	Close()
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
