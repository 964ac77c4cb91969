package transport

import (
	"context"
	"errors"
	"net"

	"netsync/client/internal/logging"
)

// UDP is a connected datagram socket.
type UDP struct {
	conn net.Conn
	in   *inbox
	log  *logging.Logger
	wait chan struct{}
}

// DialUDP connects to address and starts the reader.
func DialUDP(ctx context.Context, address string, opts Options) (*UDP, error) {
	opts = opts.normalise()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, err
	}
	t := &UDP{conn: conn, in: newInbox(opts.QueueSize, opts.Clock), log: opts.Logger, wait: make(chan struct{})}
	go t.readLoop()
	return t, nil
}

func (t *UDP) readLoop() {
	defer close(t.wait)
	buf := make([]byte, maxDatagram)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			if t.in.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			//1.- ICMP refusals surface as read errors on connected sockets; keep reading.
			t.log.Debug("udp read failed", logging.String("remote", t.Remote()), logging.Error(err))
			select {
			case <-t.in.done:
				return
			default:
				continue
			}
		}
		t.in.push(buf[:n])
	}
}

// Send writes one datagram.
func (t *UDP) Send(packet []byte) error {
	if t == nil || t.in.closed.Load() {
		return ErrClosed
	}
	_, err := t.conn.Write(packet)
	return err
}

// Poll returns the next datagram, if any.
func (t *UDP) Poll() (Datagram, bool) {
	if t == nil {
		return Datagram{}, false
	}
	return t.in.poll()
}

// Dropped counts datagrams discarded because the inbox was full.
func (t *UDP) Dropped() uint64 {
	if t == nil {
		return 0
	}
	return t.in.dropped.Load()
}

// Remote names the peer address.
func (t *UDP) Remote() string {
	if t == nil || t.conn == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}

// Close stops the reader and releases the socket.
func (t *UDP) Close() error {
	if t == nil || !t.in.shutdown() {
		return nil
	}
	err := t.conn.Close()
	<-t.wait
	return err
}
