package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"netsync/client/internal/logging"
)

const (
	// DefaultWebSocketPath is the server endpoint for binary packet frames.
	DefaultWebSocketPath = "/netsync"

	writeWait       = 5 * time.Second
	pongWait        = 30 * time.Second
	pingPeriod      = pongWait * 9 / 10
	outboundBacklog = 64
)

// WebSocketURL turns a server address into a ws:// URL. Addresses that
// already carry a ws or wss scheme keep it.
func WebSocketURL(address, path string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("websocket address must not be empty")
	}
	if path == "" {
		path = DefaultWebSocketPath
	}
	if !strings.Contains(address, "://") {
		address = "ws://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("websocket address %q has no host", address)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	return u.String(), nil
}

// WebSocket carries packets as binary frames. A single writer goroutine owns
// every write, as gorilla/websocket requires.
type WebSocket struct {
	conn   *websocket.Conn
	in     *inbox
	send   chan []byte
	log    *logging.Logger
	remote string
	wg     sync.WaitGroup
}

// DialWebSocket performs the handshake and starts the pumps.
func DialWebSocket(ctx context.Context, address string, opts Options) (*WebSocket, error) {
	opts = opts.normalise()
	target, err := WebSocketURL(address, opts.Path)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	t := &WebSocket{
		conn:   conn,
		in:     newInbox(opts.QueueSize, opts.Clock),
		send:   make(chan []byte, outboundBacklog),
		log:    opts.Logger,
		remote: target,
	}
	//1.- Keep the read deadline rolling on every pong.
	conn.SetReadLimit(maxDatagram)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	t.wg.Add(2)
	go t.readLoop()
	go t.writeLoop()
	return t, nil
}

func (t *WebSocket) readLoop() {
	defer t.wg.Done()
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if !t.in.closed.Load() {
				t.log.Info("websocket read ended", logging.String("remote", t.remote), logging.Error(err))
				t.in.shutdown()
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		t.in.push(data)
	}
}

func (t *WebSocket) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
		t.wg.Done()
	}()
	for {
		select {
		case packet := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.BinaryMessage, packet); err != nil {
				t.log.Warn("websocket write failed", logging.String("remote", t.remote), logging.Error(err))
				t.in.shutdown()
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.in.shutdown()
				return
			}
		case <-t.in.done:
			//2.- Say goodbye before the deferred close unblocks the reader.
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// Send queues one packet for the writer goroutine.
func (t *WebSocket) Send(packet []byte) error {
	if t == nil || t.in.closed.Load() {
		return ErrClosed
	}
	select {
	case t.send <- append([]byte(nil), packet...):
		return nil
	default:
		return ErrBackpressure
	}
}

// Poll returns the next received frame, if any.
func (t *WebSocket) Poll() (Datagram, bool) {
	if t == nil {
		return Datagram{}, false
	}
	return t.in.poll()
}

// Dropped counts frames discarded because the inbox was full.
func (t *WebSocket) Dropped() uint64 {
	if t == nil {
		return 0
	}
	return t.in.dropped.Load()
}

// Remote returns the endpoint URL.
func (t *WebSocket) Remote() string {
	if t == nil {
		return ""
	}
	return t.remote
}

// Close sends a close frame and waits for both pumps to exit.
func (t *WebSocket) Close() error {
	if t == nil {
		return nil
	}
	t.in.shutdown()
	t.wg.Wait()
	return nil
}
