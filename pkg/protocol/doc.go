// ABOUTME: Wire protocol package for the timing-object channel
// ABOUTME: Defines the info/update/change/sync JSON message shapes
// Package protocol implements the wire format exchanged between a timing
// client and a TimingServer over a bidirectional message channel.
//
// Messages are UTF-8 JSON objects with a "type" field and an "id" field
// naming the timing object's URL path. See RawMessage and the per-type
// payload structs.
package protocol
