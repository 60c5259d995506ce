// ABOUTME: TimingProvider contract and its local/socket implementations
// ABOUTME: A provider owns a single state vector and answers query/update
// Package provider implements the TimingProvider contract: a readyState, a
// current state vector, an optional range, and update semantics.
//
// LocalTimingProvider is driven by the wall clock and resolves updates
// synchronously. SocketTimingProvider is the client half of the wire
// protocol — it owns (or adopts) a message channel and a SyncClock, applies
// "info"/"change" messages translated into local time, and queues
// future-dated changes until their apply time arrives.
package provider
