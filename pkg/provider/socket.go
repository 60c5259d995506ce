package provider

import (
	"sort"
	"sync"
	"time"

	"github.com/timingsrc/timingsrc-go/pkg/eventbus"
	"github.com/timingsrc/timingsrc-go/pkg/protocol"
	"github.com/timingsrc/timingsrc-go/pkg/readystate"
	"github.com/timingsrc/timingsrc-go/pkg/syncclock"
	"github.com/timingsrc/timingsrc-go/pkg/transport"
	"github.com/timingsrc/timingsrc-go/pkg/vector"
)

// pendingChange is a "change" whose translated local apply time is still in
// the future. It keeps the untranslated fields so the apply time can be
// recomputed against a clock whose skew estimate has since moved.
type pendingChange struct {
	serverTS     float64
	position     float64
	velocity     float64
	acceleration float64
}

func (c pendingChange) toVector(localTS float64) vector.StateVector {
	return vector.At(c.position, c.velocity, c.acceleration, localTS)
}

// SocketTimingProvider is the client half of the timing-object wire
// protocol: it sends a single "info" request when the channel opens,
// applies the resulting vector translated into local time, and thereafter
// applies (or, for future-dated changes, queues) "change" broadcasts.
type SocketTimingProvider struct {
	id          string
	ch          *transport.Channel
	ownsChannel bool
	clock       syncclock.SyncClock
	ownsClock   bool

	mu           sync.Mutex
	stateEmitter
	readyState   readystate.ReadyState
	haveVector   bool
	vec          vector.StateVector
	rng          vector.Interval
	lastServerTS float64
	pending      []pendingChange
	timer        *time.Timer

	unsubClockChange eventbus.Unsubscribe

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Connect dials addr/path, wires a SocketSyncClock over the resulting
// channel, and starts the read loop. The provider owns both the channel
// and the clock and closes them when Close is called.
func Connect(addr, path, id string) (*SocketTimingProvider, error) {
	ch, err := transport.Dial(addr, path)
	if err != nil {
		return nil, err
	}
	clock := syncclock.NewSocketSyncClock(ch, id, syncclock.DefaultConfig())
	p := newSocketTimingProvider(id, ch, true, clock, true)
	ch.Start()
	if err := ch.Send(protocol.NewInfoRequest(id)); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// NewSocketTimingProviderWithClock builds a provider over an already-wired
// channel and clock, such as one shared with another provider on the same
// connection. The caller remains responsible for calling ch.Start() (after
// all OnSync/OnMessage handlers are registered) and for the channel's
// lifetime; the provider only closes a clock it did not adopt.
func NewSocketTimingProviderWithClock(id string, ch *transport.Channel, clock syncclock.SyncClock) *SocketTimingProvider {
	return newSocketTimingProvider(id, ch, false, clock, false)
}

func newSocketTimingProvider(id string, ch *transport.Channel, ownsChannel bool, clock syncclock.SyncClock, ownsClock bool) *SocketTimingProvider {
	p := &SocketTimingProvider{
		id:           id,
		ch:           ch,
		ownsChannel:  ownsChannel,
		clock:        clock,
		ownsClock:    ownsClock,
		stateEmitter: newStateEmitter(),
		readyState:   readystate.Connecting,
		closeCh:      make(chan struct{}),
	}
	ch.OnMessage(p.handleMessage)
	p.unsubClockChange = clock.On("change", func(eventbus.Event) {
		p.rescheduleTimer()
	})
	go p.watchChannel()
	return p
}

func (p *SocketTimingProvider) ReadyState() readystate.ReadyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyState
}

func (p *SocketTimingProvider) Vector() vector.StateVector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vec
}

func (p *SocketTimingProvider) Query() vector.StateVector {
	p.mu.Lock()
	v := p.vec
	p.mu.Unlock()
	return v.Extrapolate(nowSeconds())
}

func (p *SocketTimingProvider) Range() vector.Interval {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng
}

// Clock returns the SyncClock backing this provider's timestamp
// translation, for callers that want to display skew/roundtrip diagnostics.
func (p *SocketTimingProvider) Clock() syncclock.SyncClock {
	return p.clock
}

func (p *SocketTimingProvider) On(eventType string, handler eventbus.Handler) eventbus.Unsubscribe {
	return p.bus.On(eventType, handler)
}

// Update sends an "update" request. It fails fast with ErrNotOpen if the
// provider is not currently Open; otherwise the returned channel resolves
// with the outcome of the send itself — application of the resulting
// "change" arrives asynchronously like any other broadcast.
func (p *SocketTimingProvider) Update(fields UpdateFields) <-chan UpdateResult {
	result := make(chan UpdateResult, 1)

	p.mu.Lock()
	state := p.readyState
	p.mu.Unlock()

	if state != readystate.Open {
		result <- UpdateResult{Err: ErrNotOpen}
		return result
	}

	err := p.ch.Send(protocol.NewUpdateRequest(p.id, protocol.UpdateVector{
		Position:     fields.Position,
		Velocity:     fields.Velocity,
		Acceleration: fields.Acceleration,
	}))
	result <- UpdateResult{Err: err}
	return result
}

// Close stops the pending-change timer, unsubscribes from the clock, closes
// a clock or channel it owns, and transitions to Closed. Idempotent.
func (p *SocketTimingProvider) Close() {
	p.closeOnce.Do(func() {
		close(p.closeCh)

		p.mu.Lock()
		if p.timer != nil {
			p.timer.Stop()
		}
		p.readyState = readystate.Closing
		p.mu.Unlock()
		p.emitReadyStateLocked(readystate.Closing)

		if p.unsubClockChange != nil {
			p.unsubClockChange()
		}
		if p.ownsClock {
			p.clock.Close()
		}
		if p.ownsChannel {
			p.ch.Close()
		}

		p.mu.Lock()
		p.readyState = readystate.Closed
		p.mu.Unlock()
		p.emitReadyStateLocked(readystate.Closed)
	})
}

// emitReadyStateLocked calls stateEmitter.emitReadyState with p.mu held,
// because emitReadyState updates firstTransition without a lock of its
// own. Callers must not already hold p.mu.
func (p *SocketTimingProvider) emitReadyStateLocked(rs readystate.ReadyState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitReadyState(rs)
}

func (p *SocketTimingProvider) watchChannel() {
	select {
	case <-p.ch.Done():
		p.mu.Lock()
		already := p.readyState == readystate.Closed
		p.readyState = readystate.Closed
		p.mu.Unlock()
		if !already {
			p.emitReadyStateLocked(readystate.Closed)
		}
	case <-p.closeCh:
	}
}

func (p *SocketTimingProvider) handleMessage(raw protocol.RawMessage) {
	if raw.ID != p.id {
		return
	}
	switch raw.Type {
	case protocol.TypeInfo:
		p.handleInfo(raw)
	case protocol.TypeChange:
		p.handleChange(raw)
	}
}

// handleInfo applies the object's snapshot vector once, moving the
// provider from Connecting to Open. It only fires once: a later stray
// "info" (from a server that resends it) is ignored.
func (p *SocketTimingProvider) handleInfo(raw protocol.RawMessage) {
	p.mu.Lock()
	if p.readyState != readystate.Connecting {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if p.clock.ReadyState() != readystate.Open {
		var unsub eventbus.Unsubscribe
		unsub = p.clock.On("readystatechange", func(e eventbus.Event) {
			rs, ok := e.Payload.(readystate.ReadyState)
			if !ok || rs != readystate.Open {
				return
			}
			if unsub != nil {
				unsub()
			}
			p.handleInfo(raw)
		})
		return
	}

	v, err := raw.DecodeVector()
	if err != nil {
		return
	}

	// Subtracting delta here cancels the -delta term of the clock mapping
	// in translateToLocal, so the info snapshot is placed by skew alone.
	// "change" broadcasts keep that term and so apply delta ms later.
	adjustedTS := v.Timestamp - float64(p.clock.Delta())/1000.0
	localTS := p.translateToLocal(adjustedTS)
	newVec := vector.At(v.Position, v.Velocity, v.Acceleration, localTS)

	p.mu.Lock()
	p.vec = newVec
	p.haveVector = true
	p.lastServerTS = v.Timestamp
	p.readyState = readystate.Open
	p.mu.Unlock()

	p.bus.Emit("change", newVec)
	p.emitReadyStateLocked(readystate.Open)
}

// handleChange applies (or queues) a broadcast vector update. Stale
// broadcasts — server timestamp at or before the last one accepted, whether
// applied or queued — are
// dropped, matching the server's own per-object FIFO ordering.
func (p *SocketTimingProvider) handleChange(raw protocol.RawMessage) {
	p.mu.Lock()
	if p.readyState != readystate.Open {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	v, err := raw.DecodeVector()
	if err != nil {
		return
	}

	p.mu.Lock()
	if v.Timestamp <= p.lastServerTS {
		p.mu.Unlock()
		return
	}
	p.lastServerTS = v.Timestamp
	p.mu.Unlock()

	localTS := p.translateToLocal(v.Timestamp)
	if localTS <= nowSeconds() {
		p.applyVector(vector.At(v.Position, v.Velocity, v.Acceleration, localTS))
		return
	}

	p.mu.Lock()
	p.pending = append(p.pending, pendingChange{
		serverTS:     v.Timestamp,
		position:     v.Position,
		velocity:     v.Velocity,
		acceleration: v.Acceleration,
	})
	sort.Slice(p.pending, func(i, j int) bool { return p.pending[i].serverTS < p.pending[j].serverTS })
	p.mu.Unlock()
	p.rescheduleTimer()
}

func (p *SocketTimingProvider) applyVector(v vector.StateVector) {
	p.mu.Lock()
	old := p.vec
	hadVector := p.haveVector
	p.vec = v
	p.haveVector = true
	p.mu.Unlock()

	if !hadVector || old.Compare(v) != 0 {
		p.bus.Emit("change", v)
	}
}

// translateToLocal converts a server-frame timestamp into the local frame
// using the current clock mapping: local_ts = server_ts + (local_now -
// clock.GetTime(local_now)) / 1000.
func (p *SocketTimingProvider) translateToLocal(serverTS float64) float64 {
	localNowMs := time.Now().UnixMilli()
	refNowMs := p.clock.GetTime(localNowMs)
	return serverTS + float64(localNowMs-refNowMs)/1000.0
}

// rescheduleTimer arms a timer for the earliest pending change's local
// apply time, recomputed against the clock's current mapping. Called both
// when the queue changes and whenever the clock's skew estimate changes.
func (p *SocketTimingProvider) rescheduleTimer() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	head := p.pending[0]
	p.mu.Unlock()

	localTS := p.translateToLocal(head.serverTS)
	delay := time.Duration((localTS - nowSeconds()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}

	p.mu.Lock()
	select {
	case <-p.closeCh:
		p.mu.Unlock()
		return
	default:
	}
	p.timer = time.AfterFunc(delay, p.firePending)
	p.mu.Unlock()
}

// firePending applies the head of the pending queue, then drains and
// collapses any further entries that have also come due, applying only the
// latest of them.
func (p *SocketTimingProvider) firePending() {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	latest := p.pending[0]
	p.pending = p.pending[1:]

	for len(p.pending) > 0 {
		next := p.pending[0]
		if p.translateToLocal(next.serverTS) > nowSeconds() {
			break
		}
		latest = next
		p.pending = p.pending[1:]
	}
	p.mu.Unlock()

	localTS := p.translateToLocal(latest.serverTS)
	p.applyVector(latest.toVector(localTS))
	p.rescheduleTimer()
}
