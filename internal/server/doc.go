// ABOUTME: TimingServer — accepts channels, hosts named timing objects, broadcasts changes
// ABOUTME: One goroutine-safe object per URL path; per-object subscriber fan-out
package server
