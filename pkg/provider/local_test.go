package provider

import (
	"testing"
	"time"

	"github.com/timingsrc/timingsrc-go/pkg/eventbus"
	"github.com/timingsrc/timingsrc-go/pkg/readystate"
	"github.com/timingsrc/timingsrc-go/pkg/vector"
)

func TestLocalTimingProviderIsOpenImmediately(t *testing.T) {
	p := NewLocalTimingProvider(vector.Zero(), vector.Unbounded())
	if p.ReadyState() != readystate.Open {
		t.Errorf("ReadyState() = %v, want Open", p.ReadyState())
	}
}

func TestLocalTimingProviderUpdateFillsUnsetFieldsFromNow(t *testing.T) {
	p := NewLocalTimingProvider(vector.At(0, 1, 0, nowSeconds()-10), vector.Unbounded())

	pos := 42.0
	res := <-p.Update(UpdateFields{Position: &pos})
	if res.Err != nil {
		t.Fatalf("Update: %v", res.Err)
	}

	v := p.Vector()
	if v.Position != 42.0 {
		t.Errorf("Position = %v, want 42", v.Position)
	}
	if v.Velocity != 1 {
		t.Errorf("Velocity = %v, want 1 (carried over)", v.Velocity)
	}
}

func TestLocalTimingProviderUpdateClampsToRange(t *testing.T) {
	p := NewLocalTimingProvider(vector.Zero(), vector.NewClosed(0, 10))

	pos := 100.0
	<-p.Update(UpdateFields{Position: &pos})

	if got := p.Vector().Position; got != 10 {
		t.Errorf("Position = %v, want clamped to 10", got)
	}
}

func TestLocalTimingProviderUpdateEmitsChange(t *testing.T) {
	p := NewLocalTimingProvider(vector.Zero(), vector.Unbounded())

	changes := make(chan vector.StateVector, 1)
	p.On("change", func(e eventbus.Event) {
		changes <- e.Payload.(vector.StateVector)
	})

	pos := 5.0
	<-p.Update(UpdateFields{Position: &pos})

	select {
	case v := <-changes:
		if v.Position != 5 {
			t.Errorf("change payload Position = %v, want 5", v.Position)
		}
	case <-time.After(time.Second):
		t.Fatal("no change event observed")
	}
}

func TestLocalTimingProviderUpdateAfterCloseFails(t *testing.T) {
	p := NewLocalTimingProvider(vector.Zero(), vector.Unbounded())
	p.Close()

	pos := 1.0
	res := <-p.Update(UpdateFields{Position: &pos})
	if res.Err != ErrNotOpen {
		t.Errorf("Err = %v, want ErrNotOpen", res.Err)
	}
}

func TestLocalTimingProviderCloseIsIdempotent(t *testing.T) {
	p := NewLocalTimingProvider(vector.Zero(), vector.Unbounded())
	p.Close()
	p.Close()

	if p.ReadyState() != readystate.Closed {
		t.Errorf("ReadyState() = %v, want Closed", p.ReadyState())
	}
}
