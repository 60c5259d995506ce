package provider

import (
	"sync"
	"time"

	"github.com/timingsrc/timingsrc-go/pkg/eventbus"
	"github.com/timingsrc/timingsrc-go/pkg/readystate"
	"github.com/timingsrc/timingsrc-go/pkg/vector"
)

// LocalTimingProvider holds a state vector in memory and resolves updates
// synchronously against the wall clock. It is Open from construction and
// never transitions to Closing before Close is called.
type LocalTimingProvider struct {
	mu sync.Mutex
	stateEmitter
	readyState readystate.ReadyState
	vec        vector.StateVector
	rng        vector.Interval
}

// NewLocalTimingProvider builds a provider seeded with initial, restricted
// to rng. It is Open immediately.
func NewLocalTimingProvider(initial vector.StateVector, rng vector.Interval) *LocalTimingProvider {
	p := &LocalTimingProvider{
		stateEmitter: newStateEmitter(),
		readyState:   readystate.Open,
		vec:          initial,
		rng:          rng,
	}
	p.emitReadyState(readystate.Open)
	return p
}

func (p *LocalTimingProvider) ReadyState() readystate.ReadyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyState
}

func (p *LocalTimingProvider) Vector() vector.StateVector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vec
}

func (p *LocalTimingProvider) Query() vector.StateVector {
	p.mu.Lock()
	v := p.vec
	p.mu.Unlock()
	return v.Extrapolate(nowSeconds())
}

func (p *LocalTimingProvider) Range() vector.Interval {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng
}

// Update applies fields immediately: unset components are taken from the
// vector extrapolated to now, and the resulting vector is stamped with the
// current time. The returned channel is already fulfilled.
func (p *LocalTimingProvider) Update(fields UpdateFields) <-chan UpdateResult {
	result := make(chan UpdateResult, 1)

	p.mu.Lock()
	if p.readyState != readystate.Open {
		p.mu.Unlock()
		result <- UpdateResult{Err: ErrNotOpen}
		return result
	}

	now := nowSeconds()
	current := p.vec.Extrapolate(now)

	next := current
	if fields.Position != nil {
		next.Position = *fields.Position
	}
	if fields.Velocity != nil {
		next.Velocity = *fields.Velocity
	}
	if fields.Acceleration != nil {
		next.Acceleration = *fields.Acceleration
	}
	next.Position = p.rng.Clamp(next.Position)

	old := p.vec
	p.vec = next
	p.mu.Unlock()

	if old.Compare(next) != 0 {
		p.bus.Emit("change", next)
	}
	result <- UpdateResult{}
	return result
}

func (p *LocalTimingProvider) On(eventType string, handler eventbus.Handler) eventbus.Unsubscribe {
	return p.bus.On(eventType, handler)
}

// Close transitions the provider to Closed. Idempotent.
func (p *LocalTimingProvider) Close() {
	p.mu.Lock()
	if p.readyState == readystate.Closed {
		p.mu.Unlock()
		return
	}
	p.readyState = readystate.Closed
	p.mu.Unlock()
	p.emitReadyState(readystate.Closed)
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
