// ABOUTME: WebSocket-backed channel with type-based demultiplexing
// ABOUTME: Handles connection, JSON send/receive, and read-loop dispatch
package transport

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/timingsrc/timingsrc-go/pkg/protocol"
)

// Channel is a bidirectional, ordered JSON message channel over a
// WebSocket connection. It never inspects message semantics beyond the
// "type" field used for demultiplexing.
type Channel struct {
	conn *websocket.Conn

	sendMu sync.Mutex

	mu             sync.RWMutex
	syncHandler    func(protocol.RawMessage)
	messageHandler func(protocol.RawMessage)

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens a new WebSocket connection to addr (host:port) at path and
// wraps it in a Channel. The caller owns the returned Channel and must
// Close it.
func Dial(addr, path string) (*Channel, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: path}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return Wrap(conn), nil
}

// Wrap adopts an existing WebSocket connection, such as one produced by a
// server-side upgrade. The caller is responsible for eventually closing
// the returned Channel.
func Wrap(conn *websocket.Conn) *Channel {
	return &Channel{
		conn: conn,
		done: make(chan struct{}),
	}
}

// OnSync registers the handler invoked for every inbound message whose
// type is "sync". Must be called before Start.
func (c *Channel) OnSync(h func(protocol.RawMessage)) {
	c.mu.Lock()
	c.syncHandler = h
	c.mu.Unlock()
}

// OnMessage registers the handler invoked for every inbound message whose
// type is not "sync". Must be called before Start.
func (c *Channel) OnMessage(h func(protocol.RawMessage)) {
	c.mu.Lock()
	c.messageHandler = h
	c.mu.Unlock()
}

// Start launches the read loop in a goroutine. It returns immediately.
func (c *Channel) Start() {
	go c.readLoop()
}

func (c *Channel) readLoop() {
	defer c.markDone()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("channel read error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue // binary frames are not part of the wire protocol; ignore them
		}

		var raw protocol.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			log.Printf("malformed message dropped: %v", err)
			continue
		}

		c.dispatch(raw)
	}
}

func (c *Channel) dispatch(raw protocol.RawMessage) {
	c.mu.RLock()
	syncHandler, messageHandler := c.syncHandler, c.messageHandler
	c.mu.RUnlock()

	if raw.Type == protocol.TypeSync {
		if syncHandler != nil {
			syncHandler(raw)
		}
		return
	}
	if messageHandler != nil {
		messageHandler(raw)
	}
}

// Send marshals v as JSON and writes it to the connection. Concurrent
// callers are serialized so writes land on the wire in the order Send
// was called, never interleaved or reordered.
func (c *Channel) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Done returns a channel closed once the read loop exits (peer closed,
// network error, or Close was called).
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) markDone() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Close closes the underlying connection. Idempotent.
func (c *Channel) Close() error {
	err := c.conn.Close()
	c.markDone()
	return err
}
