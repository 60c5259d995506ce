// ABOUTME: Message channel used by the timing client, wrapping gorilla/websocket
// ABOUTME: Demultiplexes inbound messages by type so a clock and a provider can share one socket
// Package transport wraps a gorilla/websocket connection into the
// bidirectional, ordered message channel the timing protocol runs over.
//
// A single Channel can be shared by a SocketSyncClock and a
// SocketTimingProvider: inbound messages are routed to the sync handler
// when their type is "sync" and to the message handler otherwise. Writes
// are serialized internally so both owners can call Send concurrently.
package transport
