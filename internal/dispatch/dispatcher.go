package dispatch

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"netsync/client/internal/logging"
	"netsync/client/internal/wire"
)

// TraceEntry describes one message handled during the current logical tick.
type TraceEntry struct {
	Type wire.Type
	Name string
	Size int
	Dump string
}

// ObserverFunc runs after a message was handled successfully.
type ObserverFunc func(tick int, msg wire.Message)

// Option customises a dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the logger used for recovered panics.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.log = logger
		}
	}
}

type handlerEntry struct {
	name   string
	decode func(payload []byte) (wire.Payload, error)
	handle func(wire.Payload) error
}

// Dispatcher routes decoded messages to the handlers registered for their tag.
type Dispatcher struct {
	codec     *wire.Codec
	handlers  map[wire.Type]handlerEntry
	observers []ObserverFunc
	log       *logging.Logger

	traceMu   sync.RWMutex
	traceTick int
	trace     []TraceEntry
}

// New builds a dispatcher over the provided codec.
func New(codec *wire.Codec, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		codec:    codec,
		handlers: make(map[wire.Type]handlerEntry),
		log:      logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Handle registers fn as the handler for the payload type P. Registering the
// same tag twice replaces the earlier handler.
func Handle[T any, P interface {
	*T
	wire.Payload
}](d *Dispatcher, fn func(P) error) {
	if d == nil || fn == nil {
		return
	}
	tag := P(new(T)).Type()
	d.handlers[tag] = handlerEntry{
		name: d.codec.Name(tag),
		decode: func(payload []byte) (wire.Payload, error) {
			record := P(new(T))
			if err := wire.Unmarshal(payload, record); err != nil {
				return nil, err
			}
			return record, nil
		},
		handle: func(record wire.Payload) error {
			return fn(record.(P))
		},
	}
}

// Observe adds a hook that sees every successfully handled message.
func (d *Dispatcher) Observe(fn ObserverFunc) {
	if d == nil || fn == nil {
		return
	}
	d.observers = append(d.observers, fn)
}

// Handles reports whether a handler is registered for the tag.
func (d *Dispatcher) Handles(t wire.Type) bool {
	if d == nil {
		return false
	}
	_, ok := d.handlers[t]
	return ok
}

// Codec exposes the codec used for decoding.
func (d *Dispatcher) Codec() *wire.Codec {
	if d == nil {
		return nil
	}
	return d.codec
}

// BeginTick starts a new trace when the logical tick changed.
func (d *Dispatcher) BeginTick(tick int) {
	if d == nil {
		return
	}
	d.traceMu.Lock()
	if tick != d.traceTick {
		d.traceTick = tick
		d.trace = d.trace[:0]
	}
	d.traceMu.Unlock()
}

// Trace returns a copy of the entries recorded for the latest logical tick.
func (d *Dispatcher) Trace() (int, []TraceEntry) {
	if d == nil {
		return 0, nil
	}
	d.traceMu.RLock()
	defer d.traceMu.RUnlock()
	return d.traceTick, append([]TraceEntry(nil), d.trace...)
}

// Dispatch decodes and handles every message in buf, in order. The first
// failure aborts the rest of the buffer; messages already handled stay applied.
func (d *Dispatcher) Dispatch(tick int, buf []byte) error {
	if d == nil {
		return errors.New("dispatch: nil dispatcher")
	}
	d.BeginTick(tick)
	for offset := 0; offset < len(buf); {
		//1.- Frame the next message; unknown tags and short buffers stop the packet.
		msg, n, err := d.codec.Decode(buf[offset:])
		if err != nil {
			kind := MalformedPayload
			switch {
			case errors.Is(err, wire.ErrUnknownType):
				kind = UnknownHeader
			case errors.Is(err, wire.ErrTruncatedInput):
				kind = Truncated
			}
			return &ProtocolError{Kind: kind, Type: wire.Type(buf[offset]), Offset: offset, Err: err}
		}
		entry, ok := d.handlers[msg.Type]
		if !ok {
			return &ProtocolError{Kind: UnknownHeader, Type: msg.Type, Name: d.codec.Name(msg.Type), Offset: offset, Err: errors.New("no handler registered")}
		}
		//2.- Decode into the typed record before any handler sees it.
		record, err := entry.decode(msg.Payload)
		if err != nil {
			return &ProtocolError{Kind: MalformedPayload, Type: msg.Type, Name: entry.name, Offset: offset, Err: err}
		}
		//3.- Run the handler with panic recovery so the tick loop never unwinds.
		if err := d.invoke(entry, record); err != nil {
			err.Type, err.Name, err.Offset = msg.Type, entry.name, offset
			return err
		}
		d.record(msg, entry.name, record)
		for _, observer := range d.observers {
			observer(tick, msg)
		}
		offset += n
	}
	return nil
}

func (d *Dispatcher) invoke(entry handlerEntry, record wire.Payload) (perr *ProtocolError) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("message handler panicked",
				logging.String("message", entry.name),
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
			)
			perr = &ProtocolError{Kind: HandlerPanicked, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := entry.handle(record); err != nil {
		return &ProtocolError{Kind: HandlerFailed, Err: err}
	}
	return nil
}

func (d *Dispatcher) record(msg wire.Message, name string, record wire.Payload) {
	entry := TraceEntry{
		Type: msg.Type,
		Name: name,
		Size: len(msg.Raw),
		Dump: strings.TrimPrefix(fmt.Sprintf("%+v", record), "&"),
	}
	d.traceMu.Lock()
	d.trace = append(d.trace, entry)
	d.traceMu.Unlock()
}
