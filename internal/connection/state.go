package connection

import (
	"fmt"
	"time"
)

// State is the coarse connection phase.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason explains why a connection ended.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonSilent   Reason = "silent"
	ReasonUser     Reason = "user"
	ReasonGeneric  Reason = "generic"
	ReasonProtocol Reason = "protocol"
	ReasonTimeout  Reason = "timeout"
)

// defaultDetail supplies the human readable text when a caller gives none.
func (r Reason) defaultDetail() string {
	switch r {
	case ReasonSilent:
		return "disconnected"
	case ReasonUser:
		return "disconnected by user"
	case ReasonProtocol:
		return "protocol error"
	case ReasonTimeout:
		return "connection timed out"
	default:
		return "disconnected from server"
	}
}

// Status is a consistent view of the machine. Which fields are meaningful
// depends on State:
//
//	Connecting:   Target, Deadline, Retries
//	Connected:    Address, Digest
//	Reconnecting: LastAddress
type Status struct {
	State       State
	Target      string
	Deadline    time.Time
	Retries     int
	Address     string
	Digest      string
	LastAddress string
	SessionID   string
	Reason      Reason
	Detail      string
}

// Attempt is handed to the attempt hook each time a handshake must be sent.
type Attempt struct {
	Target         string
	Number         int
	SessionID      string
	PasswordDigest string
}
