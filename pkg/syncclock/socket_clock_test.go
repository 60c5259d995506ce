// ABOUTME: Tests for the socket-backed skew estimation algorithm
package syncclock

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/timingsrc/timingsrc-go/pkg/protocol"
	"github.com/timingsrc/timingsrc-go/pkg/readystate"
	"github.com/timingsrc/timingsrc-go/pkg/transport"
)

// fakeServer answers every "sync" request as if the server clock is
// simulatedSkewMs ahead of the client, and advertises deltaMs.
func fakeServer(t *testing.T, simulatedSkewMs, deltaMs int64) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var raw protocol.RawMessage
				if err := json.Unmarshal(data, &raw); err != nil || raw.Type != protocol.TypeSync {
					continue
				}
				ct, _ := raw.DecodeClientTime()
				received := ct.Sent + simulatedSkewMs
				sent := received + 1
				resp := protocol.NewSyncResponse(raw.ID, ct, protocol.ServerTime{Received: received, Sent: sent}, deltaMs)
				respData, _ := json.Marshal(resp)
				conn.WriteMessage(websocket.TextMessage, respData)
			}
		}()
	}))

	addr := strings.TrimPrefix(srv.URL, "http://")
	return srv, addr
}

func TestSocketSyncClockConvergesToSkew(t *testing.T) {
	srv, addr := fakeServer(t, 500, 200)
	defer srv.Close()

	ch, err := transport.Dial(addr, "/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()
	ch.OnMessage(func(protocol.RawMessage) {})
	ch.Start()

	cfg := DefaultConfig()
	cfg.NInit = 5
	cfg.IInit = time.Millisecond
	cfg.InitAttemptTimeout = 500 * time.Millisecond

	clock := NewSocketSyncClock(ch, "/clock/a", cfg)
	defer clock.Close()

	waitForState(t, clock, readystate.Open, 2*time.Second)

	skew := clock.Skew()
	if diff := skew - 500; diff < -50 || diff > 50 {
		t.Errorf("skew = %d, want ~500 (within 50ms slack)", skew)
	}
	if clock.Delta() != 200 {
		t.Errorf("delta = %d, want 200", clock.Delta())
	}
}

func TestSocketSyncClockGetTimeInvariant(t *testing.T) {
	srv, addr := fakeServer(t, 100, 50)
	defer srv.Close()

	ch, err := transport.Dial(addr, "/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()
	ch.OnMessage(func(protocol.RawMessage) {})
	ch.Start()

	cfg := DefaultConfig()
	cfg.NInit = 3
	cfg.IInit = time.Millisecond
	cfg.InitAttemptTimeout = 500 * time.Millisecond

	clock := NewSocketSyncClock(ch, "/clock/a", cfg)
	defer clock.Close()

	waitForState(t, clock, readystate.Open, 2*time.Second)

	x := int64(1_700_000_000_000)
	if got := clock.GetTime(x) - x; got != clock.Skew()-clock.Delta() {
		t.Errorf("GetTime(x)-x = %d, want skew-delta = %d", got, clock.Skew()-clock.Delta())
	}
}

func TestSocketSyncClockCloseIsIdempotent(t *testing.T) {
	srv, addr := fakeServer(t, 0, 0)
	defer srv.Close()

	ch, err := transport.Dial(addr, "/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ch.OnMessage(func(protocol.RawMessage) {})
	ch.Start()

	cfg := DefaultConfig()
	cfg.NInit = 2
	cfg.IInit = time.Millisecond

	clock := NewSocketSyncClock(ch, "/clock/a", cfg)
	clock.Close()
	clock.Close()

	if clock.ReadyState() != readystate.Closed {
		t.Errorf("ReadyState() = %v, want Closed", clock.ReadyState())
	}
	ch.Close()
}

func waitForState(t *testing.T, clock *SocketSyncClock, want readystate.ReadyState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if clock.ReadyState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("readyState never reached %v (stuck at %v)", want, clock.ReadyState())
}
