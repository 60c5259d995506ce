// ABOUTME: Trivial identity SyncClock for locally-mastered timing objects and tests
package syncclock

import (
	"sync"

	"github.com/timingsrc/timingsrc-go/pkg/eventbus"
	"github.com/timingsrc/timingsrc-go/pkg/readystate"
)

// LocalSyncClock has skew=0, delta=0 and is Open immediately after
// construction. It never needs samples and never emits "change".
type LocalSyncClock struct {
	mu         sync.RWMutex
	readyState readystate.ReadyState
	bus        *eventbus.Bus
}

// NewLocalSyncClock creates a clock that is already Open.
func NewLocalSyncClock() *LocalSyncClock {
	c := &LocalSyncClock{bus: eventbus.New(), readyState: readystate.Open}
	c.bus.EmitDeferred("readystatechange", readystate.Open)
	return c
}

func (c *LocalSyncClock) ReadyState() readystate.ReadyState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readyState
}

func (c *LocalSyncClock) Skew() int64                 { return 0 }
func (c *LocalSyncClock) Delta() int64                { return 0 }
func (c *LocalSyncClock) GetTime(localMs int64) int64 { return localMs }
func (c *LocalSyncClock) Now() int64                  { return nowMs() }

func (c *LocalSyncClock) On(eventType string, handler eventbus.Handler) eventbus.Unsubscribe {
	return c.bus.On(eventType, handler)
}

// Close transitions the clock to Closed. Idempotent.
func (c *LocalSyncClock) Close() {
	c.mu.Lock()
	if c.readyState == readystate.Closed {
		c.mu.Unlock()
		return
	}
	c.readyState = readystate.Closed
	c.mu.Unlock()
	c.bus.Emit("readystatechange", readystate.Closed)
}
