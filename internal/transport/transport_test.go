package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"netsync/client/internal/logging"
)

func waitPoll(t *testing.T, tr Transport) Datagram {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if packet, ok := tr.Poll(); ok {
			return packet
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a packet")
	return Datagram{}
}

func TestUDPRoundTrip(t *testing.T) {
	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer server.Close()

	client, err := Dial(context.Background(), KindUDP, server.LocalAddr().String(), Options{Logger: logging.NewTestLogger()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if _, ok := client.Poll(); ok {
		t.Fatal("poll on an idle socket must not yield data")
	}
	if err := client.Send([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}

	buf := make([]byte, 64)
	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := server.ReadFrom(buf)
	if err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("server read %q err %v", buf[:n], err)
	}
	if _, err := server.WriteTo([]byte("pong"), from); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if packet := waitPoll(t, client); string(packet.Data) != "pong" || packet.At.IsZero() {
		t.Fatalf("unexpected packet %+v", packet)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Send([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestWebSocketRoundTripIgnoresTextFrames(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc(DefaultWebSocketPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("motd"))
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, append([]byte("echo:"), data...)); err != nil {
				return
			}
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := Dial(context.Background(), KindWebSocket, server.URL, Options{Logger: logging.NewTestLogger()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := client.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("send: %v", err)
	}
	packet := waitPoll(t, client)
	if string(packet.Data) != "echo:\x01\x02\x03" {
		t.Fatalf("unexpected frame %q", packet.Data)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Send([]byte{4}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestWebSocketURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:10666":          "ws://127.0.0.1:10666/netsync",
		"http://example.net":       "ws://example.net/netsync",
		"https://example.net/game": "wss://example.net/game",
		"wss://example.net:443/":   "wss://example.net:443/netsync",
	}
	for in, want := range cases {
		got, err := WebSocketURL(in, "")
		if err != nil || got != want {
			t.Fatalf("WebSocketURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := WebSocketURL("ftp://example.net", ""); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}

func TestLoopbackDropsWhenInboxIsFull(t *testing.T) {
	a, b := Pair(1)
	if err := a.Send([]byte("one")); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = a.Send([]byte("two"))
	if b.Dropped() != 1 {
		t.Fatalf("expected one dropped packet, got %d", b.Dropped())
	}
	if packet, ok := b.Poll(); !ok || string(packet.Data) != "one" {
		t.Fatalf("unexpected packet %+v ok=%v", packet, ok)
	}
	_ = b.Close()
	if err := a.Send([]byte("three")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed once the peer closed, got %v", err)
	}
	if _, err := Dial(context.Background(), "carrier-pigeon", "x", Options{}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}
}
