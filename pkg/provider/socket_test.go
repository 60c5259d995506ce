package provider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/timingsrc/timingsrc-go/pkg/eventbus"
	"github.com/timingsrc/timingsrc-go/pkg/protocol"
	"github.com/timingsrc/timingsrc-go/pkg/readystate"
	"github.com/timingsrc/timingsrc-go/pkg/vector"
)

// fakeProviderServer answers "sync" with zero skew/delta and "info" with
// initial. It hands the raw connection back over connCh so a test can push
// unsolicited "change" broadcasts.
func fakeProviderServer(t *testing.T, initial protocol.Vector) (*httptest.Server, string, chan *websocket.Conn) {
	t.Helper()
	return fakeProviderServerWithDelta(t, initial, 0)
}

// fakeProviderServerWithDelta is fakeProviderServer with a configurable
// delta advertised on every "sync" response, the way a real server with a
// non-zero CLI delta would.
func fakeProviderServerWithDelta(t *testing.T, initial protocol.Vector, delta int64) (*httptest.Server, string, chan *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
		go func() {
			defer conn.Close()
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var raw protocol.RawMessage
				if err := json.Unmarshal(data, &raw); err != nil {
					continue
				}
				switch raw.Type {
				case protocol.TypeSync:
					ct, _ := raw.DecodeClientTime()
					resp := protocol.NewSyncResponse(raw.ID, ct, protocol.ServerTime{Received: ct.Sent, Sent: ct.Sent}, delta)
					data, _ := json.Marshal(resp)
					conn.WriteMessage(websocket.TextMessage, data)
				case protocol.TypeInfo:
					resp := protocol.NewInfoResponse(raw.ID, initial)
					data, _ := json.Marshal(resp)
					conn.WriteMessage(websocket.TextMessage, data)
				}
			}
		}()
	}))

	addr := strings.TrimPrefix(srv.URL, "http://")
	return srv, addr, connCh
}

func sendChange(t *testing.T, conn *websocket.Conn, id string, v protocol.Vector) {
	t.Helper()
	msg := protocol.NewChangeMessage(id, v)
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal change: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write change: %v", err)
	}
}

func waitProviderState(t *testing.T, p *SocketTimingProvider, want readystate.ReadyState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.ReadyState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("readyState never reached %v (stuck at %v)", want, p.ReadyState())
}

func TestSocketTimingProviderAppliesInfoOnConnect(t *testing.T) {
	initial := protocol.Vector{Position: 10, Velocity: 1, Timestamp: nowSeconds()}
	srv, addr, _ := fakeProviderServer(t, initial)
	defer srv.Close()

	p, err := Connect(addr, "/", "/obj/a")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Close()

	waitProviderState(t, p, readystate.Open, 2*time.Second)

	v := p.Query()
	if v.Position < 9 || v.Position > 40 {
		// extrapolated forward from position 10, velocity 1, over a small
		// connect delay: comfortably bounded well under a minute of drift.
		t.Errorf("Query().Position = %v, want roughly 10+dt", v.Position)
	}
}

func TestSocketTimingProviderAppliesImmediateChange(t *testing.T) {
	initial := protocol.Vector{Position: 0, Timestamp: nowSeconds()}
	srv, addr, connCh := fakeProviderServer(t, initial)
	defer srv.Close()

	p, err := Connect(addr, "/", "/obj/a")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Close()

	waitProviderState(t, p, readystate.Open, 2*time.Second)
	conn := <-connCh

	changes := make(chan vector.StateVector, 4)
	p.On("change", func(e eventbus.Event) {
		changes <- e.Payload.(vector.StateVector)
	})

	sendChange(t, conn, "/obj/a", protocol.Vector{Position: 99, Timestamp: nowSeconds()})

	select {
	case v := <-changes:
		if v.Position != 99 {
			t.Errorf("Position = %v, want 99", v.Position)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change event observed for immediate change")
	}
}

func TestSocketTimingProviderQueuesFutureChange(t *testing.T) {
	initial := protocol.Vector{Position: 0, Timestamp: nowSeconds()}
	srv, addr, connCh := fakeProviderServer(t, initial)
	defer srv.Close()

	p, err := Connect(addr, "/", "/obj/a")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Close()

	waitProviderState(t, p, readystate.Open, 2*time.Second)
	conn := <-connCh

	changes := make(chan vector.StateVector, 4)
	p.On("change", func(e eventbus.Event) {
		changes <- e.Payload.(vector.StateVector)
	})

	future := nowSeconds() + 0.2
	sendChange(t, conn, "/obj/a", protocol.Vector{Position: 55, Timestamp: future})

	select {
	case v := <-changes:
		t.Fatalf("change fired early with Position = %v", v.Position)
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case v := <-changes:
		if v.Position != 55 {
			t.Errorf("Position = %v, want 55", v.Position)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued change never applied")
	}
}

func TestSocketTimingProviderDropsStaleChange(t *testing.T) {
	initial := protocol.Vector{Position: 0, Timestamp: nowSeconds()}
	srv, addr, connCh := fakeProviderServer(t, initial)
	defer srv.Close()

	p, err := Connect(addr, "/", "/obj/a")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Close()

	waitProviderState(t, p, readystate.Open, 2*time.Second)
	conn := <-connCh

	changes := make(chan vector.StateVector, 4)
	p.On("change", func(e eventbus.Event) {
		changes <- e.Payload.(vector.StateVector)
	})

	now := nowSeconds()
	sendChange(t, conn, "/obj/a", protocol.Vector{Position: 20, Timestamp: now})
	<-changes

	sendChange(t, conn, "/obj/a", protocol.Vector{Position: 999, Timestamp: now - 10})

	select {
	case v := <-changes:
		t.Fatalf("stale change was applied, Position = %v", v.Position)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestSocketTimingProviderInfoAdjustsForServerDelta guards the handleInfo
// pre-adjustment: an "info" vector's server timestamp has delta/1000
// subtracted before the generic local-time translation, which cancels the
// clock's own -delta term and leaves only skew. A server advertising a
// non-zero delta must therefore produce the same extrapolated position as one
// advertising zero delta; regressing to the shared translateToLocal path
// used for "change" would shift the position by delta*velocity/1000.
func TestSocketTimingProviderInfoAdjustsForServerDelta(t *testing.T) {
	const velocity = 100.0

	run := func(delta int64) vector.StateVector {
		initial := protocol.Vector{Position: 1000, Velocity: velocity, Timestamp: nowSeconds()}
		srv, addr, _ := fakeProviderServerWithDelta(t, initial, delta)
		defer srv.Close()

		p, err := Connect(addr, "/", "/obj/a")
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
		defer p.Close()

		waitProviderState(t, p, readystate.Open, 2*time.Second)
		return p.Query()
	}

	withoutDelta := run(0)
	withDelta := run(5000)

	if diff := withDelta.Position - withoutDelta.Position; diff > 5 || diff < -5 {
		t.Errorf("Position with delta=5000 diverged from delta=0 by %v, want within 5 (info must cancel delta)", diff)
	}
}

func TestSocketTimingProviderUpdateFailsWhenNotOpen(t *testing.T) {
	initial := protocol.Vector{Position: 0, Timestamp: nowSeconds()}
	srv, addr, _ := fakeProviderServer(t, initial)
	defer srv.Close()

	p, err := Connect(addr, "/", "/obj/a")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p.Close()

	pos := 1.0
	res := <-p.Update(UpdateFields{Position: &pos})
	if res.Err != ErrNotOpen {
		t.Errorf("Err = %v, want ErrNotOpen", res.Err)
	}
}
