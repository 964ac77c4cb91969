package transport

import (
	"sync"
	"time"
)

// Loopback is one end of an in-process pipe, used by tests and local play.
type Loopback struct {
	name string
	in   *inbox

	mu   sync.Mutex
	peer *Loopback
}

// Pair returns two connected loopback ends.
func Pair(queueSize int) (*Loopback, *Loopback) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	a := &Loopback{name: "loopback-a", in: newInbox(queueSize, time.Now)}
	b := &Loopback{name: "loopback-b", in: newInbox(queueSize, time.Now)}
	a.peer, b.peer = b, a
	return a, b
}

// Send delivers packet to the peer's inbox.
func (l *Loopback) Send(packet []byte) error {
	if l == nil || l.in.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	peer := l.peer
	l.mu.Unlock()
	if peer == nil || peer.in.closed.Load() {
		return ErrClosed
	}
	peer.in.push(packet)
	return nil
}

// Poll returns the next packet sent by the peer.
func (l *Loopback) Poll() (Datagram, bool) {
	if l == nil {
		return Datagram{}, false
	}
	return l.in.poll()
}

// Dropped counts packets discarded because the inbox was full.
func (l *Loopback) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.in.dropped.Load()
}

// Remote names the other end.
func (l *Loopback) Remote() string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.peer == nil {
		return ""
	}
	return l.peer.name
}

// Close detaches this end. The peer sees ErrClosed on its next Send.
func (l *Loopback) Close() error {
	if l == nil {
		return nil
	}
	l.in.shutdown()
	return nil
}
