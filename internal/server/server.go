// ABOUTME: HTTP + WebSocket entry point hosting the timing-object registry
// ABOUTME: Each URL path is a distinct object; upgrade, fan-out and sync all live here
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/timingsrc/timingsrc-go/pkg/protocol"
	"github.com/timingsrc/timingsrc-go/pkg/transport"
)

// Config holds server startup configuration.
type Config struct {
	// Addr is the TCP address to listen on, e.g. ":8080".
	Addr string

	// Delta is the process-wide future-dating offset, in milliseconds,
	// advertised in every sync response.
	Delta int64

	// UseTUI runs an interactive terminal status display for the
	// server's lifetime instead of plain log output.
	UseTUI bool
}

// Server hosts a registry of named timing objects behind a WebSocket
// upgrade endpoint at every URL path. Per-object state is serialized by
// timingObject's own lock, so update-then-broadcast is atomic with respect
// to any single object's subscribers even though channels are handled
// concurrently.
type Server struct {
	cfg Config

	upgrader websocket.Upgrader
	mux      *http.ServeMux
	http     *http.Server

	mu       sync.Mutex
	objects  map[string]*timingObject
	channels map[*transport.Channel]struct{}

	tui *ServerTUI

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Server from cfg. It does not start listening.
func New(cfg Config) *Server {
	mux := http.NewServeMux()
	s := &Server{
		cfg: cfg,
		mux: mux,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
		objects:  make(map[string]*timingObject),
		channels: make(map[*transport.Channel]struct{}),
		stopCh:   make(chan struct{}),
	}
	mux.HandleFunc("/", s.handleUpgrade)
	return s
}

// checkOrigin is the stub policy referenced by autoAcceptConnections=false:
// it inspects the Origin header but does not currently enforce an
// allowlist beyond logging anything unexpected.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients carry no Origin header
	}
	if origin == "http://localhost" || origin == "http://127.0.0.1" {
		return true
	}
	log.Printf("accepting connection from origin: %s", origin)
	return true
}

// Start listens on cfg.Addr and blocks until Stop is called or the listener
// fails. It returns the listener error, if any, on unclean shutdown.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.mux,
	}

	var tuiQuitChan <-chan struct{}
	if s.cfg.UseTUI {
		s.tui = NewServerTUI()
		tuiQuitChan = s.tui.QuitChan()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tui.Start(s.cfg.Addr, s.cfg.Delta)
		}()
		time.Sleep(100 * time.Millisecond)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tuiRefreshLoop()
		}()
	}

	log.Printf("timing server listening on %s (delta=%dms)", s.cfg.Addr, s.cfg.Delta)

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-s.stopCh:
		log.Printf("timing server shutting down")
	case <-tuiQuitChan:
		log.Printf("TUI quit requested, shutting down")
	case err := <-errCh:
		log.Printf("timing server listen error: %v", err)
		serveErr = err
	}

	if s.tui != nil {
		s.tui.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		log.Printf("timing server shutdown error: %v", err)
	}

	s.wg.Wait()
	log.Printf("timing server stopped")

	if serveErr != nil {
		return fmt.Errorf("timing server: %w", serveErr)
	}
	return nil
}

// tuiRefreshLoop periodically pushes hosted-object status to the TUI. It
// exits once Stop closes stopCh.
func (s *Server) tuiRefreshLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.updateTUI()
		case <-s.stopCh:
			return
		}
	}
}

// Stop requests a graceful shutdown. Idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}

	ch := transport.Wrap(conn)
	s.trackChannel(ch)

	ch.OnSync(func(raw protocol.RawMessage) { s.handleSync(ch, raw) })
	ch.OnMessage(func(raw protocol.RawMessage) { s.handleMessage(ch, raw) })

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ch.Start()
		<-ch.Done()
		s.dropChannel(ch)
	}()
}

func (s *Server) trackChannel(ch *transport.Channel) {
	s.mu.Lock()
	s.channels[ch] = struct{}{}
	s.mu.Unlock()
}

// dropChannel removes ch from the global set and from every object's
// subscriber set. Safe to call more than once for the same channel.
func (s *Server) dropChannel(ch *transport.Channel) {
	s.mu.Lock()
	delete(s.channels, ch)
	objs := make([]*timingObject, 0, len(s.objects))
	for _, o := range s.objects {
		objs = append(objs, o)
	}
	s.mu.Unlock()

	for _, o := range objs {
		o.removeSubscriber(ch)
	}
}

func (s *Server) objectFor(id string) *timingObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	if !ok {
		o = newTimingObject(nowSeconds())
		s.objects[id] = o
	}
	return o
}

func (s *Server) knownObject(id string) (*timingObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	return o, ok
}

// ObjectIDs returns the paths of every timing object created so far, for
// callers that advertise the server's hosted objects (e.g. mDNS TXT
// records) without reaching into the registry's lock themselves.
func (s *Server) ObjectIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	return ids
}

// Done returns a channel that closes once Stop has been called, for
// callers that need to shut down alongside the server without owning it.
func (s *Server) Done() <-chan struct{} {
	return s.stopCh
}

func (s *Server) handleMessage(ch *transport.Channel, raw protocol.RawMessage) {
	switch raw.Type {
	case protocol.TypeInfo:
		s.handleInfo(ch, raw)
	case protocol.TypeUpdate:
		s.handleUpdate(ch, raw)
	default:
		log.Printf("dropping message of unknown type %q for %q", raw.Type, raw.ID)
	}
}

func (s *Server) handleInfo(ch *transport.Channel, raw protocol.RawMessage) {
	obj := s.objectFor(raw.ID)
	obj.addSubscriber(ch)

	v, _ := obj.snapshot(nowSeconds())
	resp := protocol.NewInfoResponse(raw.ID, protocol.Vector{
		Position:     v.Position,
		Velocity:     v.Velocity,
		Acceleration: v.Acceleration,
		Timestamp:    v.Timestamp,
	})
	if err := ch.Send(resp); err != nil {
		log.Printf("send info to %q failed: %v", raw.ID, err)
		s.dropChannel(ch)
	}
}

func (s *Server) handleUpdate(ch *transport.Channel, raw protocol.RawMessage) {
	obj, ok := s.knownObject(raw.ID)
	if !ok {
		log.Printf("update for unknown id %q dropped", raw.ID)
		return
	}

	uv, err := raw.DecodeUpdateVector()
	if err != nil {
		log.Printf("malformed update for %q: %v", raw.ID, err)
		return
	}

	next, subs := obj.applyUpdate(uv.Position, uv.Velocity, uv.Acceleration, nowSeconds())

	msg := protocol.NewChangeMessage(raw.ID, protocol.Vector{
		Position:     next.Position,
		Velocity:     next.Velocity,
		Acceleration: next.Acceleration,
		Timestamp:    next.Timestamp,
	})
	for _, sub := range subs {
		if err := sub.Send(msg); err != nil {
			log.Printf("broadcast to a subscriber of %q failed: %v", raw.ID, err)
			s.dropChannel(sub)
		}
	}
}

func (s *Server) handleSync(ch *transport.Channel, raw protocol.RawMessage) {
	received := nowMs()

	ct, err := raw.DecodeClientTime()
	if err != nil {
		log.Printf("malformed sync for %q: %v", raw.ID, err)
		return
	}

	sent := nowMs()
	resp := protocol.NewSyncResponse(raw.ID, ct, protocol.ServerTime{Received: received, Sent: sent}, s.cfg.Delta)
	if err := ch.Send(resp); err != nil {
		log.Printf("send sync reply for %q failed: %v", raw.ID, err)
		s.dropChannel(ch)
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
