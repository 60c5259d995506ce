package provider

import (
	"errors"

	"github.com/timingsrc/timingsrc-go/pkg/eventbus"
	"github.com/timingsrc/timingsrc-go/pkg/readystate"
	"github.com/timingsrc/timingsrc-go/pkg/vector"
)

// ErrNotOpen is returned by Update when the provider's readyState is not
// Open — either it hasn't finished connecting yet, or it has already
// started closing.
var ErrNotOpen = errors.New("provider: not open")

// UpdateFields carries the fields of an update request. A nil field means
// "leave this component of the motion unchanged".
type UpdateFields struct {
	Position     *float64
	Velocity     *float64
	Acceleration *float64
}

// UpdateResult is delivered exactly once on the channel returned by
// Update.
type UpdateResult struct {
	Err error
}

// TimingProvider is the source of a single object's motion: a readyState,
// a possibly-restricted range, and a state vector that changes over time
// either by extrapolation or by discrete updates.
//
// Implementations emit "readystatechange" (payload readystate.ReadyState)
// and "change" (payload vector.StateVector) on their event bus. The first
// readystatechange transition is dispatched asynchronously so a handler
// registered immediately after construction still observes it.
type TimingProvider interface {
	// ReadyState reports the current lifecycle state.
	ReadyState() readystate.ReadyState

	// Vector returns the last vector applied, unextrapolated.
	Vector() vector.StateVector

	// Query extrapolates the current vector to now and returns it.
	Query() vector.StateVector

	// Range reports the value range the position is restricted to.
	Range() vector.Interval

	// Update requests a motion change. The returned channel receives
	// exactly one UpdateResult.
	Update(fields UpdateFields) <-chan UpdateResult

	// On subscribes handler to eventType, returning a function that
	// removes it again.
	On(eventType string, handler eventbus.Handler) eventbus.Unsubscribe

	// Close releases resources and transitions to Closed. Idempotent.
	Close()
}

// stateEmitter holds the event bus and the "defer only the first
// transition" readystatechange contract shared by every TimingProvider
// implementation. It has no lock of its own.
type stateEmitter struct {
	bus             *eventbus.Bus
	firstTransition bool
}

func newStateEmitter() stateEmitter {
	return stateEmitter{bus: eventbus.New()}
}

func (e *stateEmitter) emitReadyState(rs readystate.ReadyState) {
	if !e.firstTransition {
		e.firstTransition = true
		e.bus.EmitDeferred("readystatechange", rs)
		return
	}
	e.bus.Emit("readystatechange", rs)
}
