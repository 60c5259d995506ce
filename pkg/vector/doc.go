// ABOUTME: State-vector and interval primitives for the timing-object core
// ABOUTME: Pure, frame-agnostic motion algebra shared by every other package
// Package vector implements the numeric core of a timing object: an
// immutable state vector (position, velocity, acceleration, timestamp) and
// the interval type used to clamp a timing object's range.
//
// Every type here is pure and frame-agnostic — callers decide whether a
// given StateVector's timestamp lives in local time or reference time.
package vector
