package dispatch

import (
	"errors"
	"fmt"

	"netsync/client/internal/wire"
)

// Kind classifies why a packet could not be dispatched.
type Kind int

const (
	// UnknownHeader means no schema or handler exists for the tag.
	UnknownHeader Kind = iota + 1
	// MalformedPayload means the payload does not match its schema.
	MalformedPayload
	// HandlerPanicked means a handler panicked and was recovered.
	HandlerPanicked
	// HandlerFailed means a handler returned an error.
	HandlerFailed
	// Truncated means the datagram ended inside a message.
	Truncated
)

func (k Kind) String() string {
	switch k {
	case UnknownHeader:
		return "unknown header"
	case MalformedPayload:
		return "malformed payload"
	case HandlerPanicked:
		return "handler panicked"
	case HandlerFailed:
		return "handler failed"
	case Truncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// ProtocolError aborts the remainder of the packet being dispatched.
type ProtocolError struct {
	Kind   Kind
	Type   wire.Type
	Name   string
	Offset int
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("dispatch %s at offset %d (%s): %v", e.Kind, e.Offset, e.Name, e.Err)
	}
	return fmt.Sprintf("dispatch %s at offset %d: %v", e.Kind, e.Offset, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Transient reports whether only the current datagram is lost. Everything
// else is fatal to the session.
func (e *ProtocolError) Transient() bool { return e.Kind == Truncated }

// KindOf extracts the dispatch kind from an error chain, or 0.
func KindOf(err error) Kind {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return 0
}
