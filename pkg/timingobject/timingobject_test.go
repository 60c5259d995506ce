package timingobject

import (
	"testing"
	"time"

	"github.com/timingsrc/timingsrc-go/pkg/eventbus"
	"github.com/timingsrc/timingsrc-go/pkg/provider"
	"github.com/timingsrc/timingsrc-go/pkg/readystate"
	"github.com/timingsrc/timingsrc-go/pkg/vector"
)

func TestNewIsMasterAndOpen(t *testing.T) {
	to := New(vector.Zero(), vector.Unbounded())
	defer to.Close()

	if to.SrcObject() != nil {
		t.Errorf("SrcObject() = %v, want nil while mastered", to.SrcObject())
	}
	if to.ReadyState() != readystate.Open {
		t.Errorf("ReadyState() = %v, want Open", to.ReadyState())
	}
}

func TestUpdateEmitsChange(t *testing.T) {
	to := New(vector.Zero(), vector.Unbounded())
	defer to.Close()

	changes := make(chan vector.StateVector, 1)
	to.On("change", func(e eventbus.Event) {
		changes <- e.Payload.(vector.StateVector)
	})

	pos := 7.0
	<-to.Update(provider.UpdateFields{Position: &pos})

	select {
	case v := <-changes:
		if v.Position != 7 {
			t.Errorf("Position = %v, want 7", v.Position)
		}
	case <-time.After(time.Second):
		t.Fatal("no change event observed")
	}
}

func TestTimeupdateTicksWhileMoving(t *testing.T) {
	to := New(vector.Zero(), vector.Unbounded())
	to.tickInterval = 10 * time.Millisecond
	defer to.Close()

	ticks := make(chan vector.StateVector, 8)
	to.On("timeupdate", func(e eventbus.Event) {
		select {
		case ticks <- e.Payload.(vector.StateVector):
		default:
		}
	})

	v := 1.0
	<-to.Update(provider.UpdateFields{Velocity: &v})

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("no timeupdate observed while moving")
	}

	zero := 0.0
	<-to.Update(provider.UpdateFields{Velocity: &zero})
	time.Sleep(50 * time.Millisecond)

	for len(ticks) > 0 {
		<-ticks
	}
	select {
	case <-ticks:
		t.Fatal("timeupdate still firing after motion stopped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSetSrcObjectNilFallsBackToLocal(t *testing.T) {
	remote := provider.NewLocalTimingProvider(vector.At(3, 0, 0, nowSeconds()), vector.Unbounded())
	to := NewFromProvider(remote, false)
	defer to.Close()

	if to.SrcObject() == nil {
		t.Fatal("SrcObject() = nil, want the remote provider while slaved")
	}

	to.SetSrcObject(nil)

	if to.SrcObject() != nil {
		t.Errorf("SrcObject() = %v, want nil after falling back to local", to.SrcObject())
	}
	if got := to.Query().Position; got != 3 {
		t.Errorf("Position = %v, want 3 (carried over from old provider)", got)
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
