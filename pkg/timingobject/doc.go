// ABOUTME: User-facing façade over a TimingProvider, with master/slave switching
// ABOUTME: Re-emits provider events and derives a periodic "timeupdate" ticker
// Package timingobject exposes the single entry point external code drives:
// query the current motion, request an update, and observe change,
// readystatechange and timeupdate events. It holds exactly one
// provider.TimingProvider at a time, swappable at runtime via SetSrcObject.
package timingobject
