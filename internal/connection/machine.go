package connection

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"lukechampine.com/blake3"

	"netsync/client/internal/config"
	"netsync/client/internal/logging"
	"netsync/client/internal/protocol"
)

var (
	// ErrResolve reports that the server address could not be resolved.
	ErrResolve = errors.New("connection: cannot resolve address")
	// ErrNoPriorAddress is returned by Reconnect when no server was ever reached.
	ErrNoPriorAddress = errors.New("connection: no previous server to reconnect to")
	// ErrVersionMismatch is fatal to the session.
	ErrVersionMismatch = errors.New("connection: protocol version mismatch")
	// ErrNotConnecting reports a server accept that arrived outside a handshake.
	ErrNotConnecting = errors.New("connection: not connecting")
)

// AttemptFunc sends one handshake. An error is logged and the attempt is
// retried at the next deadline.
type AttemptFunc func(ctx context.Context, attempt Attempt) error

// TeardownFunc runs when a live or pending connection is dropped.
type TeardownFunc func(reason Reason, detail string)

// TransitionFunc observes every state change.
type TransitionFunc func(from, to Status)

// Option customises a Machine.
type Option func(*Machine)

// WithClock injects a deterministic clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Machine) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithResolver replaces the system resolver.
func WithResolver(resolver Resolver) Option {
	return func(m *Machine) {
		if resolver != nil {
			m.resolver = resolver
		}
	}
}

// WithLogger overrides the machine logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.log = logger
		}
	}
}

// WithVersion overrides the protocol version expected from servers.
func WithVersion(version uint32) Option {
	return func(m *Machine) {
		m.version = version
	}
}

// Machine tracks the lifecycle of the connection to one server.
type Machine struct {
	mu sync.Mutex

	cfg      config.ConnectConfig
	now      func() time.Time
	resolver Resolver
	limiter  *rate.Limiter
	log      *logging.Logger
	version  uint32

	status         Status
	passwordDigest string
	lastHeard      time.Time
	sessionLog     *logging.Logger

	attempt     AttemptFunc
	teardowns   []TeardownFunc
	transitions []TransitionFunc
}

// NewMachine constructs a machine in the Disconnected state.
func NewMachine(cfg config.ConnectConfig, opts ...Option) *Machine {
	//1.- Fill any unset tuning with the documented defaults.
	if cfg.DefaultPort <= 0 {
		cfg.DefaultPort = config.DefaultServerPort
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = config.DefaultAttemptTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = config.DefaultMaxRetries
	}
	if cfg.ServerTimeout <= 0 {
		cfg.ServerTimeout = config.DefaultServerTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = config.DefaultReconnectInterval
	}
	m := &Machine{
		cfg:      cfg,
		now:      time.Now,
		resolver: NewNetResolver(cfg.DefaultPort),
		limiter:  rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		log:      logging.L(),
		version:  protocol.Version,
	}
	//2.- Apply the functional options to customise timing or lookups.
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// OnAttempt installs the hook that sends handshakes.
func (m *Machine) OnAttempt(fn AttemptFunc) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.attempt = fn
	m.mu.Unlock()
}

// OnTeardown appends a hook run when a connection or attempt is dropped.
func (m *Machine) OnTeardown(fn TeardownFunc) {
	if m == nil || fn == nil {
		return
	}
	m.mu.Lock()
	m.teardowns = append(m.teardowns, fn)
	m.mu.Unlock()
}

// OnTransition appends an observer of state changes.
func (m *Machine) OnTransition(fn TransitionFunc) {
	if m == nil || fn == nil {
		return
	}
	m.mu.Lock()
	m.transitions = append(m.transitions, fn)
	m.mu.Unlock()
}

// Status returns a copy of the current state.
func (m *Machine) Status() Status {
	if m == nil {
		return Status{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// State returns the current phase.
func (m *Machine) State() State {
	return m.Status().State
}

// PasswordDigest hashes a password for the handshake. An empty password has
// an empty digest.
func PasswordDigest(password string) string {
	if password == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Connect drops any current connection and starts a handshake with address.
// Resolution failures leave the machine Disconnected.
func (m *Machine) Connect(ctx context.Context, address, password string) error {
	if m == nil {
		return errors.New("connection: nil machine")
	}
	//1.- A new target always replaces the current one.
	m.Disconnect(ReasonSilent, "connecting to another server")

	target, err := m.resolver.Resolve(ctx, address)
	if err != nil {
		m.log.Warn("cannot resolve server address", logging.String("address", address), logging.Error(err))
		return fmt.Errorf("%w %q: %v", ErrResolve, address, err)
	}
	m.mu.Lock()
	m.passwordDigest = PasswordDigest(password)
	m.mu.Unlock()
	m.begin(ctx, target)
	return nil
}

// Reconnect connects again to the last server. While the throttle holds the
// request back the machine waits in Reconnecting and Tick completes it.
func (m *Machine) Reconnect(ctx context.Context) error {
	if m == nil {
		return errors.New("connection: nil machine")
	}
	m.mu.Lock()
	last := m.status.LastAddress
	if last == "" {
		last = m.status.Address
	}
	if last == "" {
		m.mu.Unlock()
		return ErrNoPriorAddress
	}
	state := m.status.State
	m.mu.Unlock()

	//1.- Leave the current session before moving to Reconnecting.
	if state == Connected || state == Connecting {
		m.Disconnect(ReasonSilent, "reconnecting")
	}
	m.transition(func(s *Status) {
		*s = Status{State: Reconnecting, LastAddress: last}
	})
	m.tryReconnect(ctx)
	return nil
}

func (m *Machine) tryReconnect(ctx context.Context) {
	m.mu.Lock()
	if m.status.State != Reconnecting || !m.limiter.AllowN(m.now(), 1) {
		m.mu.Unlock()
		return
	}
	target := m.status.LastAddress
	m.mu.Unlock()
	m.begin(ctx, target)
}

func (m *Machine) begin(ctx context.Context, target string) {
	now := m.now()
	ctx, sessionLog, sessionID := logging.WithSession(ctx, m.log, uuid.NewString())
	m.mu.Lock()
	m.sessionLog = sessionLog
	m.mu.Unlock()
	m.transition(func(s *Status) {
		*s = Status{
			State:       Connecting,
			Target:      target,
			Deadline:    now.Add(m.cfg.AttemptTimeout),
			LastAddress: target,
			SessionID:   sessionID,
		}
	})
	sessionLog.Info("connecting to server", logging.String("target", target))
	m.sendAttempt(ctx)
}

func (m *Machine) sendAttempt(ctx context.Context) {
	m.mu.Lock()
	fn := m.attempt
	log := m.sessionLog
	attempt := Attempt{
		Target:         m.status.Target,
		Number:         m.status.Retries + 1,
		SessionID:      m.status.SessionID,
		PasswordDigest: m.passwordDigest,
	}
	m.mu.Unlock()
	if fn == nil {
		return
	}
	if log == nil {
		log = m.log
	}
	//1.- Retries arrive on the tick context, so the session is attached again.
	if logging.SessionIDFromContext(ctx) != attempt.SessionID {
		ctx = logging.ContextWithLogger(logging.ContextWithSessionID(ctx, attempt.SessionID), log)
	}
	if err := fn(ctx, attempt); err != nil {
		log.Warn("handshake send failed", logging.String("target", attempt.Target), logging.Int("attempt", attempt.Number), logging.Error(err))
	}
}

// Heard records traffic from the server, postponing the silence timeout.
func (m *Machine) Heard() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lastHeard = m.now()
	m.mu.Unlock()
}

// Accept completes the handshake. A version mismatch disconnects with a
// protocol reason and returns ErrVersionMismatch.
func (m *Machine) Accept(version uint32, digest string) error {
	if m == nil {
		return errors.New("connection: nil machine")
	}
	m.mu.Lock()
	state := m.status.State
	m.mu.Unlock()
	if state != Connecting {
		return ErrNotConnecting
	}
	if version != m.version {
		detail := fmt.Sprintf("server protocol %d, client protocol %d", version, m.version)
		m.Disconnect(ReasonProtocol, detail)
		return fmt.Errorf("%w: %s", ErrVersionMismatch, detail)
	}
	now := m.now()
	m.transition(func(s *Status) {
		address, session := s.Target, s.SessionID
		*s = Status{State: Connected, Address: address, Digest: digest, LastAddress: address, SessionID: session}
	})
	m.mu.Lock()
	m.lastHeard = now
	m.mu.Unlock()
	return nil
}

// Tick advances timers: it resends handshakes, gives up after too many
// attempts, drops silent servers and completes throttled reconnects.
func (m *Machine) Tick(ctx context.Context) {
	if m == nil {
		return
	}
	m.mu.Lock()
	status := m.status
	lastHeard := m.lastHeard
	now := m.now()
	m.mu.Unlock()

	switch status.State {
	case Connecting:
		if now.Before(status.Deadline) {
			return
		}
		//1.- Out of attempts: give up on the server.
		if status.Retries >= m.cfg.MaxRetries {
			m.Disconnect(ReasonTimeout, fmt.Sprintf("no response from %s after %d attempts", status.Target, status.Retries+1))
			return
		}
		//2.- Otherwise push the deadline and resend the handshake.
		m.transition(func(s *Status) {
			s.Retries++
			s.Deadline = now.Add(m.cfg.AttemptTimeout)
		})
		m.sendAttempt(ctx)
	case Connected:
		if now.Sub(lastHeard) > m.cfg.ServerTimeout {
			m.Disconnect(ReasonTimeout, "server stopped responding")
		}
	case Reconnecting:
		m.tryReconnect(ctx)
	}
}

// Disconnect ends the current connection or attempt and runs the teardown
// hooks. It reports whether anything was torn down.
func (m *Machine) Disconnect(reason Reason, detail string) bool {
	if m == nil {
		return false
	}
	if detail == "" {
		detail = reason.defaultDetail()
	}
	m.mu.Lock()
	prev := m.status.State
	m.mu.Unlock()
	if prev == Disconnected {
		return false
	}
	m.transition(func(s *Status) {
		last := s.LastAddress
		if last == "" {
			last = s.Address
		}
		*s = Status{State: Disconnected, LastAddress: last, Reason: reason, Detail: detail}
	})
	//1.- Reconnecting never got far enough to own session state.
	if prev == Connected || prev == Connecting {
		m.mu.Lock()
		hooks := append([]TeardownFunc(nil), m.teardowns...)
		m.mu.Unlock()
		for _, hook := range hooks {
			hook(reason, detail)
		}
	}
	m.log.Info("disconnected", logging.String("reason", string(reason)), logging.String("detail", detail), logging.String("from", prev.String()))
	return true
}

func (m *Machine) transition(mutate func(*Status)) {
	m.mu.Lock()
	from := m.status
	mutate(&m.status)
	to := m.status
	observers := append([]TransitionFunc(nil), m.transitions...)
	m.mu.Unlock()
	for _, fn := range observers {
		fn(from, to)
	}
}
