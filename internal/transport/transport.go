// Package transport moves packets between the client and a server without
// ever blocking the tick loop. Reads happen on a background goroutine and
// land in a bounded inbox that the tick drains with Poll.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"netsync/client/internal/logging"
)

const (
	// KindUDP selects plain datagrams.
	KindUDP = "udp"
	// KindWebSocket selects binary WebSocket frames.
	KindWebSocket = "websocket"
	// KindLoopback selects an in-process pair.
	KindLoopback = "loopback"

	// DefaultQueueSize bounds the inbox of received packets.
	DefaultQueueSize = 256
	// maxDatagram bounds a single read.
	maxDatagram = 64*1024 + 64
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")
	// ErrBackpressure is returned when the outbound queue is full.
	ErrBackpressure = errors.New("transport: outbound queue full")
	// ErrUnknownKind reports an unsupported transport name.
	ErrUnknownKind = errors.New("transport: unknown kind")
)

// Datagram is one received packet.
type Datagram struct {
	Data []byte
	At   time.Time
}

// Transport is a connected, non-blocking packet pipe.
type Transport interface {
	// Send queues or writes one packet without waiting on the peer.
	Send(packet []byte) error
	// Poll returns the next received packet, if any.
	Poll() (Datagram, bool)
	// Dropped counts packets discarded because the inbox was full.
	Dropped() uint64
	// Remote names the peer.
	Remote() string
	Close() error
}

// Options tune a transport.
type Options struct {
	QueueSize int
	Logger    *logging.Logger
	Clock     func() time.Time
	// Path is the WebSocket endpoint used when the address has no path.
	Path string
}

func (o Options) normalise() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Logger == nil {
		o.Logger = logging.L()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Path == "" {
		o.Path = DefaultWebSocketPath
	}
	return o
}

// Dial connects a transport of the named kind.
func Dial(ctx context.Context, kind, address string, opts Options) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindUDP, "":
		t, err := DialUDP(ctx, address, opts)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindWebSocket:
		t, err := DialWebSocket(ctx, address, opts)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// inbox is the bounded queue between a reader goroutine and Poll.
type inbox struct {
	queue   chan Datagram
	dropped atomic.Uint64
	clock   func() time.Time

	once   sync.Once
	done   chan struct{}
	closed atomic.Bool
}

func newInbox(size int, clock func() time.Time) *inbox {
	return &inbox{queue: make(chan Datagram, size), clock: clock, done: make(chan struct{})}
}

// push copies data into the queue, dropping it when the tick loop lags.
func (in *inbox) push(data []byte) {
	if in.closed.Load() {
		return
	}
	packet := Datagram{Data: append([]byte(nil), data...), At: in.clock()}
	select {
	case in.queue <- packet:
	default:
		in.dropped.Add(1)
	}
}

func (in *inbox) poll() (Datagram, bool) {
	select {
	case packet := <-in.queue:
		return packet, true
	default:
		return Datagram{}, false
	}
}

// shutdown marks the inbox closed; it reports whether this call closed it.
func (in *inbox) shutdown() bool {
	first := false
	in.once.Do(func() {
		first = true
		in.closed.Store(true)
		close(in.done)
	})
	return first
}
