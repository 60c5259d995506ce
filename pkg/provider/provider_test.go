// ABOUTME: Compile-time contract checks for TimingProvider implementations
package provider

var (
	_ TimingProvider = (*LocalTimingProvider)(nil)
	_ TimingProvider = (*SocketTimingProvider)(nil)
)
