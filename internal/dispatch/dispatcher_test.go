package dispatch

import (
	"errors"
	"strings"
	"testing"

	"netsync/client/internal/logging"
	"netsync/client/internal/protocol"
	"netsync/client/internal/wire"
)

type recorder struct {
	seen []string
}

func newDispatcher(t *testing.T, rec *recorder) *Dispatcher {
	t.Helper()
	d := New(protocol.NewServerCodec(), WithLogger(logging.NewTestLogger()))
	Handle(d, func(msg *protocol.ServerGametic) error {
		rec.seen = append(rec.seen, "gametic")
		return nil
	})
	Handle(d, func(msg *protocol.Print) error {
		rec.seen = append(rec.seen, "print:"+msg.Text)
		switch msg.Text {
		case "fail":
			return errors.New("handler refused")
		case "panic":
			panic("boom")
		}
		return nil
	})
	return d
}

func packet(t *testing.T, payloads ...wire.Payload) []byte {
	t.Helper()
	codec := protocol.NewServerCodec()
	var buf []byte
	for _, p := range payloads {
		raw, err := codec.EncodePayload(p)
		if err != nil {
			t.Fatalf("EncodePayload: %v", err)
		}
		buf = append(buf, raw...)
	}
	return buf
}

func TestDispatchHandlesMessagesInOrder(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(t, rec)
	var observed []wire.Type
	d.Observe(func(tick int, msg wire.Message) {
		if tick != 7 {
			t.Fatalf("observer saw tick %d", tick)
		}
		observed = append(observed, msg.Type)
	})

	buf := packet(t, &protocol.ServerGametic{Tic: 1}, &protocol.Print{Text: "hi"}, &protocol.ServerGametic{Tic: 2})
	if err := d.Dispatch(7, buf); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if strings.Join(rec.seen, ",") != "gametic,print:hi,gametic" {
		t.Fatalf("unexpected order %v", rec.seen)
	}
	if len(observed) != 3 || observed[1] != protocol.SvcPrint {
		t.Fatalf("unexpected observed types %v", observed)
	}

	tick, trace := d.Trace()
	if tick != 7 || len(trace) != 3 {
		t.Fatalf("expected three trace entries for tick 7, got %d at %d", len(trace), tick)
	}
	if trace[1].Name != "svc_print" || !strings.Contains(trace[1].Dump, "hi") || trace[1].Size == 0 {
		t.Fatalf("unexpected trace entry %+v", trace[1])
	}

	//1.- A second packet in the same tick extends the trace, a new tick resets it.
	if err := d.Dispatch(7, packet(t, &protocol.ServerGametic{Tic: 3})); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, trace := d.Trace(); len(trace) != 4 {
		t.Fatalf("expected trace to accumulate within a tick, got %d", len(trace))
	}
	d.BeginTick(8)
	if tick, trace := d.Trace(); tick != 8 || len(trace) != 0 {
		t.Fatalf("expected empty trace for tick 8, got %d entries at %d", len(trace), tick)
	}
}

func TestDispatchStopsAtUnknownHeader(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(t, rec)
	buf := append(packet(t, &protocol.ServerGametic{Tic: 1}), 0xFE, 0x00)
	buf = append(buf, packet(t, &protocol.Print{Text: "never"})...)

	err := d.Dispatch(1, buf)
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != UnknownHeader || perr.Type != 0xFE || perr.Offset != 3 {
		t.Fatalf("expected unknown header at offset 3, got %v", err)
	}
	if perr.Transient() {
		t.Fatal("unknown header must not be transient")
	}
	if len(rec.seen) != 1 {
		t.Fatalf("expected only the first message to be handled, got %v", rec.seen)
	}
}

func TestDispatchWithoutHandlerIsUnknownHeader(t *testing.T) {
	d := newDispatcher(t, &recorder{})
	if d.Handles(protocol.SvcNoop) {
		t.Fatal("noop has no handler in this dispatcher")
	}
	err := d.Dispatch(1, packet(t, &protocol.Noop{}))
	if KindOf(err) != UnknownHeader {
		t.Fatalf("expected unknown header, got %v", err)
	}
}

func TestDispatchClassifiesFailures(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want Kind
	}{
		{"truncated", wire.AppendMessage(nil, protocol.SvcPrint, []byte{0, 5, 'a'})[:4], Truncated},
		{"malformed", wire.AppendMessage(nil, protocol.SvcServerGametic, nil), MalformedPayload},
		{"handler error", packet(t, &protocol.Print{Text: "fail"}), HandlerFailed},
		{"handler panic", packet(t, &protocol.Print{Text: "panic"}), HandlerPanicked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newDispatcher(t, &recorder{})
			err := d.Dispatch(1, tc.buf)
			if got := KindOf(err); got != tc.want {
				t.Fatalf("expected %s, got %s (%v)", tc.want, got, err)
			}
			var perr *ProtocolError
			if errors.As(err, &perr) && perr.Transient() != (tc.want == Truncated) {
				t.Fatalf("unexpected transient flag for %s", tc.want)
			}
			if _, trace := d.Trace(); len(trace) != 0 {
				t.Fatalf("failed messages must not be traced, got %+v", trace)
			}
		})
	}
}

func TestNilDispatcher(t *testing.T) {
	var d *Dispatcher
	if err := d.Dispatch(1, nil); err == nil {
		t.Fatal("expected an error from a nil dispatcher")
	}
	if d.Handles(protocol.SvcNoop) || d.Codec() != nil {
		t.Fatal("nil dispatcher should report nothing")
	}
}
