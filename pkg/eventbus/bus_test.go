// ABOUTME: Tests for the event bus dispatch ordering and deferred emit
package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestEmitDispatchesInRegistrationOrder(t *testing.T) {
	b := New()
	var order []int

	b.On("change", func(Event) { order = append(order, 1) })
	b.On("change", func(Event) { order = append(order, 2) })
	b.On("change", func(Event) { order = append(order, 3) })

	b.Emit("change", nil)

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestEmitOnlyReachesMatchingType(t *testing.T) {
	b := New()
	var gotChange, gotReady bool

	b.On("change", func(Event) { gotChange = true })
	b.On("readystatechange", func(Event) { gotReady = true })

	b.Emit("change", nil)

	if !gotChange {
		t.Error("change handler not invoked")
	}
	if gotReady {
		t.Error("readystatechange handler invoked for change event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0

	unsub := b.On("change", func(Event) { calls++ })
	b.Emit("change", nil)
	unsub()
	b.Emit("change", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestEmitDeferredIsObservableAfterConstruction(t *testing.T) {
	b := New()

	var mu sync.Mutex
	received := false

	b.EmitDeferred("readystatechange", "open")

	// A handler registered right after the emitting call (simulating a
	// caller subscribing right after construction) must still see it.
	b.On("readystatechange", func(Event) {
		mu.Lock()
		received = true
		mu.Unlock()
	})

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		ok := received
		mu.Unlock()
		if ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("deferred readystatechange never observed")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPayloadRoundTrips(t *testing.T) {
	b := New()
	var got any

	b.On("change", func(e Event) { got = e.Payload })
	b.Emit("change", 42)

	if got != 42 {
		t.Errorf("payload = %v, want 42", got)
	}
}
