// ABOUTME: Clock-synchronization contract and implementations
// ABOUTME: Translates local timestamps into a shared reference clock's frame
// Package syncclock translates local timestamps into a shared reference
// clock's frame of reference.
//
// LocalSyncClock is the trivial identity mapping used by locally-mastered
// timing objects and in tests. SocketSyncClock estimates the skew against a
// server's reference clock by round-tripping "sync" probes over a shared
// message channel, rejecting high-latency samples and applying a
// process-wide delta that uniformly future-dates every client's effective
// apply time.
package syncclock
