package timingobject

import (
	"sync"
	"time"

	"github.com/timingsrc/timingsrc-go/pkg/eventbus"
	"github.com/timingsrc/timingsrc-go/pkg/provider"
	"github.com/timingsrc/timingsrc-go/pkg/readystate"
	"github.com/timingsrc/timingsrc-go/pkg/vector"
)

// DefaultTickInterval is the "timeupdate" period, 5Hz by default.
const DefaultTickInterval = 200 * time.Millisecond

// TimingObject is the façade external code drives: query the current
// motion, request an update, and observe change/readystatechange/timeupdate
// events, without caring whether the underlying motion is locally mastered
// or synchronized against a remote provider.
type TimingObject struct {
	tickInterval time.Duration
	bus          *eventbus.Bus

	mu              sync.Mutex
	provider        provider.TimingProvider
	master          bool
	unsubChange     eventbus.Unsubscribe
	unsubReadyState eventbus.Unsubscribe
	tickerRunning   bool
	tickerStop      chan struct{}
	closed          bool
}

// New builds a TimingObject mastered by a local provider seeded with
// initial and restricted to rng.
func New(initial vector.StateVector, rng vector.Interval) *TimingObject {
	return NewFromProvider(provider.NewLocalTimingProvider(initial, rng), true)
}

// NewFromProvider builds a TimingObject bound to an existing provider. Pass
// master true only for a provider this call effectively takes ownership of
// as the object's "local" mode — ordinary remote providers should pass
// false, making the object a slave.
func NewFromProvider(p provider.TimingProvider, master bool) *TimingObject {
	t := &TimingObject{
		tickInterval: DefaultTickInterval,
		bus:          eventbus.New(),
	}
	t.provider = p
	t.master = master
	t.attach(p)
	return t
}

// Query extrapolates the active provider's vector to now.
func (t *TimingObject) Query() vector.StateVector {
	return t.activeProvider().Query()
}

// IsMoving reports whether the current extrapolated motion has non-zero
// velocity or acceleration.
func (t *TimingObject) IsMoving() bool {
	return t.Query().IsMoving()
}

// Update requests a motion change on the active provider.
func (t *TimingObject) Update(fields provider.UpdateFields) <-chan provider.UpdateResult {
	return t.activeProvider().Update(fields)
}

// Range reports the active provider's restricted value range.
func (t *TimingObject) Range() vector.Interval {
	return t.activeProvider().Range()
}

// ReadyState reports the active provider's lifecycle state.
func (t *TimingObject) ReadyState() readystate.ReadyState {
	return t.activeProvider().ReadyState()
}

// On subscribes handler to "change", "readystatechange" or "timeupdate".
func (t *TimingObject) On(eventType string, handler eventbus.Handler) eventbus.Unsubscribe {
	return t.bus.On(eventType, handler)
}

// SrcObject returns the external provider this object is a slave to, or
// nil if it is currently mastered by a local provider.
func (t *TimingObject) SrcObject() provider.TimingProvider {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.master {
		return nil
	}
	return t.provider
}

// SetSrcObject swaps the active provider. Passing nil while in slave mode
// detaches from the external provider and constructs a new
// LocalTimingProvider seeded from its last query, becoming master again.
// The object closes whichever provider it is replacing.
func (t *TimingObject) SetSrcObject(p provider.TimingProvider) {
	t.mu.Lock()
	old := t.provider
	t.detach()
	t.mu.Unlock()

	var next provider.TimingProvider
	master := false
	if p == nil {
		next = provider.NewLocalTimingProvider(old.Query(), old.Range())
		master = true
	} else {
		next = p
	}

	t.mu.Lock()
	t.provider = next
	t.master = master
	t.mu.Unlock()
	t.attach(next)

	old.Close()
}

// Close detaches from and closes the active provider, and stops the
// timeupdate ticker. Idempotent.
func (t *TimingObject) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	p := t.provider
	t.detach()
	t.mu.Unlock()

	t.stopTicker()
	p.Close()
}

func (t *TimingObject) activeProvider() provider.TimingProvider {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.provider
}

// attach wires the object's re-emission of a provider's events and the
// timeupdate ticker's start/stop triggers. Must be called without t.mu
// held.
func (t *TimingObject) attach(p provider.TimingProvider) {
	unsubChange := p.On("change", func(e eventbus.Event) {
		v, ok := e.Payload.(vector.StateVector)
		if !ok {
			return
		}
		t.bus.Emit("change", v)
		if v.IsMoving() {
			t.startTicker()
		} else {
			t.stopTicker()
		}
	})
	unsubReadyState := p.On("readystatechange", func(e eventbus.Event) {
		rs, ok := e.Payload.(readystate.ReadyState)
		if !ok {
			return
		}
		t.bus.Emit("readystatechange", rs)
		if rs == readystate.Closed {
			t.stopTicker()
		}
	})

	t.mu.Lock()
	t.unsubChange = unsubChange
	t.unsubReadyState = unsubReadyState
	t.mu.Unlock()
}

// detach must be called with t.mu held.
func (t *TimingObject) detach() {
	if t.unsubChange != nil {
		t.unsubChange()
		t.unsubChange = nil
	}
	if t.unsubReadyState != nil {
		t.unsubReadyState()
		t.unsubReadyState = nil
	}
}

func (t *TimingObject) startTicker() {
	t.mu.Lock()
	if t.tickerRunning {
		t.mu.Unlock()
		return
	}
	t.tickerRunning = true
	stop := make(chan struct{})
	t.tickerStop = stop
	interval := t.tickInterval
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.bus.Emit("timeupdate", t.Query())
			case <-stop:
				return
			}
		}
	}()
}

func (t *TimingObject) stopTicker() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.tickerRunning {
		return
	}
	t.tickerRunning = false
	close(t.tickerStop)
}
