// ABOUTME: Immutable state-vector type and its extrapolation math
// ABOUTME: position/velocity/acceleration extrapolate to any timestamp
package vector

import (
	"fmt"
	"math"
	"time"
)

// EqualityTolerance bounds the floating-point slack used by Compare.
const EqualityTolerance = 1e-9

// StateVector is an immutable snapshot of one-dimensional motion: a
// position, velocity and acceleration valid at Timestamp. Timestamp is
// frame-agnostic — it is up to the caller to know whether it is expressed
// in local time or in a synchronized reference clock's frame.
type StateVector struct {
	Position     float64
	Velocity     float64
	Acceleration float64
	Timestamp    float64 // seconds since epoch, in some clock's frame
}

// newStateVector builds a StateVector stamped with the current wall clock
// (in the caller's frame).
func newStateVector(position, velocity, acceleration float64) StateVector {
	return StateVector{
		Position:     position,
		Velocity:     velocity,
		Acceleration: acceleration,
		Timestamp:    nowSeconds(),
	}
}

// At builds a StateVector with an explicit timestamp.
func At(position, velocity, acceleration, timestamp float64) StateVector {
	return StateVector{
		Position:     position,
		Velocity:     velocity,
		Acceleration: acceleration,
		Timestamp:    timestamp,
	}
}

// Zero returns the vector at rest at the origin, stamped now.
func Zero() StateVector {
	return newStateVector(0, 0, 0)
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ComputePosition extrapolates position to time t.
func (v StateVector) ComputePosition(t float64) float64 {
	dt := t - v.Timestamp
	return v.Position + v.Velocity*dt + 0.5*v.Acceleration*dt*dt
}

// ComputeVelocity extrapolates velocity to time t.
func (v StateVector) ComputeVelocity(t float64) float64 {
	dt := t - v.Timestamp
	return v.Velocity + v.Acceleration*dt
}

// ComputeAcceleration returns the acceleration at time t. Acceleration is
// constant between updates, so this is always v.Acceleration.
func (v StateVector) ComputeAcceleration(_ float64) float64 {
	return v.Acceleration
}

// Extrapolate extrapolates v to time t and returns the resulting vector.
func (v StateVector) Extrapolate(t float64) StateVector {
	return At(v.ComputePosition(t), v.ComputeVelocity(t), v.Acceleration, t)
}

// IsMoving reports whether the vector has non-zero velocity or acceleration.
func (v StateVector) IsMoving() bool {
	return v.Velocity != 0 || v.Acceleration != 0
}

// Compare evaluates other at v.Timestamp, then lexicographically compares
// (position, velocity, acceleration) against v with a tolerance for
// floating-point equality. Returns -1, 0 or 1. Never panics.
func (v StateVector) Compare(other StateVector) int {
	o := other.Extrapolate(v.Timestamp)

	if c := compareFloat(v.Position, o.Position); c != 0 {
		return c
	}
	if c := compareFloat(v.Velocity, o.Velocity); c != 0 {
		return c
	}
	return compareFloat(v.Acceleration, o.Acceleration)
}

// Equal reports whether v and other describe the same motion, per Compare.
func (v StateVector) Equal(other StateVector) bool {
	return v.Compare(other) == 0
}

func compareFloat(a, b float64) int {
	if math.Abs(a-b) <= EqualityTolerance {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

// String renders the vector for diagnostics and log lines.
func (v StateVector) String() string {
	return fmt.Sprintf("StateVector{p=%.6f, v=%.6f, a=%.6f, t=%.6f}",
		v.Position, v.Velocity, v.Acceleration, v.Timestamp)
}
