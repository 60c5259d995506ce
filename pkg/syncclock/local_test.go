// ABOUTME: Tests for LocalSyncClock identity mapping and lifecycle
package syncclock

import (
	"testing"

	"github.com/timingsrc/timingsrc-go/pkg/readystate"
)

func TestLocalSyncClockIsOpenImmediately(t *testing.T) {
	c := NewLocalSyncClock()
	if c.ReadyState() != readystate.Open {
		t.Errorf("ReadyState() = %v, want Open", c.ReadyState())
	}
}

func TestLocalSyncClockGetTimeIsIdentity(t *testing.T) {
	c := NewLocalSyncClock()
	for _, x := range []int64{0, 1, -5, 1_700_000_000_000} {
		if got := c.GetTime(x); got != x {
			t.Errorf("GetTime(%d) = %d, want %d", x, got, x)
		}
	}
}

func TestLocalSyncClockGetTimeInvariant(t *testing.T) {
	c := NewLocalSyncClock()
	x := int64(123456)
	if got := c.GetTime(x) - x; got != c.Skew()-c.Delta() {
		t.Errorf("GetTime(x)-x = %d, want skew-delta = %d", got, c.Skew()-c.Delta())
	}
}

func TestLocalSyncClockCloseIsIdempotent(t *testing.T) {
	c := NewLocalSyncClock()
	c.Close()
	c.Close()

	if c.ReadyState() != readystate.Closed {
		t.Errorf("ReadyState() = %v, want Closed", c.ReadyState())
	}
}
