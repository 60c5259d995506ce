// ABOUTME: Compile-time and basic contract checks for SyncClock implementations
package syncclock

var (
	_ SyncClock = (*LocalSyncClock)(nil)
	_ SyncClock = (*SocketSyncClock)(nil)
)
