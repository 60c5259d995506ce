// ABOUTME: Tests for the demultiplexing WebSocket channel
package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/timingsrc/timingsrc-go/pkg/protocol"
)

func newEchoServer(t *testing.T) (*httptest.Server, string) {
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
				mt, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if err := conn.WriteMessage(mt, data); err != nil {
					return
				}
			}
		}()
	}))

	addr := strings.TrimPrefix(srv.URL, "http://")
	return srv, addr
}

func TestChannelRoutesSyncAndOtherMessages(t *testing.T) {
	srv, addr := newEchoServer(t)
	defer srv.Close()

	ch, err := Dial(addr, "/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()

	var mu sync.Mutex
	var gotSync, gotOther []string

	ch.OnSync(func(m protocol.RawMessage) {
		mu.Lock()
		gotSync = append(gotSync, m.Type)
		mu.Unlock()
	})
	ch.OnMessage(func(m protocol.RawMessage) {
		mu.Lock()
		gotOther = append(gotOther, m.Type)
		mu.Unlock()
	})
	ch.Start()

	if err := ch.Send(protocol.NewSyncRequest("/x", 1, "attempt-1")); err != nil {
		t.Fatalf("send sync: %v", err)
	}
	if err := ch.Send(protocol.NewInfoRequest("/x")); err != nil {
		t.Fatalf("send info: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(gotSync) == 1 && len(gotOther) == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotSync) != 1 || gotSync[0] != protocol.TypeSync {
		t.Errorf("gotSync = %v, want one %q", gotSync, protocol.TypeSync)
	}
	if len(gotOther) != 1 || gotOther[0] != protocol.TypeInfo {
		t.Errorf("gotOther = %v, want one %q", gotOther, protocol.TypeInfo)
	}
}

func TestChannelDoneClosesOnPeerClose(t *testing.T) {
	// httptest.Server.Close does not close hijacked (upgraded) connections,
	// so the server handler closes its end of the socket itself on signal.
	upgrader := websocket.Upgrader{}
	closePeer := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-closePeer
		conn.Close()
	}))
	defer srv.Close()

	ch, err := Dial(strings.TrimPrefix(srv.URL, "http://"), "/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ch.OnMessage(func(protocol.RawMessage) {})
	ch.OnSync(func(protocol.RawMessage) {})
	ch.Start()

	close(closePeer) // the server closes its end of the connection

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() never closed after peer close")
	}
}
