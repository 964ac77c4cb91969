package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"netsync/client/internal/config"
	"netsync/client/internal/logging"
	"netsync/client/internal/protocol"
)

type staticResolver map[string]string

func (r staticResolver) Resolve(_ context.Context, address string) (string, error) {
	target, ok := r[address]
	if !ok {
		return "", errors.New("no such host")
	}
	return target, nil
}

type harness struct {
	machine   *Machine
	now       time.Time
	attempts  []Attempt
	teardowns []Reason
}

func newHarness(t *testing.T, cfg config.ConnectConfig) *harness {
	t.Helper()
	h := &harness{now: time.Unix(1_700_000_000, 0)}
	resolver := staticResolver{"alpha": "10.0.0.1:10666", "beta": "10.0.0.2:10667"}
	h.machine = NewMachine(cfg, WithClock(func() time.Time { return h.now }), WithResolver(resolver))
	h.machine.OnAttempt(func(_ context.Context, attempt Attempt) error {
		h.attempts = append(h.attempts, attempt)
		return nil
	})
	h.machine.OnTeardown(func(reason Reason, _ string) {
		h.teardowns = append(h.teardowns, reason)
	})
	return h
}

func defaultConnectConfig() config.ConnectConfig {
	return config.Defaults().Connect
}

func TestConnectStartsHandshake(t *testing.T) {
	h := newHarness(t, defaultConnectConfig())
	if err := h.machine.Connect(context.Background(), "alpha", "hunter2"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	status := h.machine.Status()
	if status.State != Connecting || status.Target != "10.0.0.1:10666" || status.Retries != 0 {
		t.Fatalf("unexpected status %+v", status)
	}
	if !status.Deadline.Equal(h.now.Add(config.DefaultAttemptTimeout)) {
		t.Fatalf("unexpected deadline %v", status.Deadline)
	}
	if len(h.attempts) != 1 || h.attempts[0].Number != 1 {
		t.Fatalf("expected one handshake, got %+v", h.attempts)
	}
	if digest := h.attempts[0].PasswordDigest; len(digest) != 64 || digest != PasswordDigest("hunter2") {
		t.Fatalf("unexpected password digest %q", digest)
	}
	if h.attempts[0].SessionID == "" || h.attempts[0].SessionID != status.SessionID {
		t.Fatal("expected handshake to carry the session id")
	}
}

func TestAttemptsCarrySessionContext(t *testing.T) {
	h := newHarness(t, defaultConnectConfig())
	var sessions []string
	var loggers []*logging.Logger
	h.machine.OnAttempt(func(ctx context.Context, attempt Attempt) error {
		h.attempts = append(h.attempts, attempt)
		sessions = append(sessions, logging.SessionIDFromContext(ctx))
		loggers = append(loggers, logging.LoggerFromContext(ctx))
		return nil
	})
	if err := h.machine.Connect(context.Background(), "alpha", ""); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	h.now = h.now.Add(config.DefaultAttemptTimeout)
	h.machine.Tick(context.Background())

	sessionID := h.machine.Status().SessionID
	if len(sessions) != 2 {
		t.Fatalf("expected a handshake and a retry, got %d", len(sessions))
	}
	for i, got := range sessions {
		if got != sessionID {
			t.Fatalf("attempt %d carried session %q, want %q", i+1, got, sessionID)
		}
	}
	if loggers[0] == logging.L() || loggers[0] != loggers[1] {
		t.Fatal("expected every attempt to share the session logger")
	}
}

func TestConnectResolveFailureStaysDisconnected(t *testing.T) {
	h := newHarness(t, defaultConnectConfig())
	err := h.machine.Connect(context.Background(), "nowhere", "")
	if !errors.Is(err, ErrResolve) {
		t.Fatalf("expected resolve error, got %v", err)
	}
	if h.machine.State() != Disconnected || len(h.attempts) != 0 {
		t.Fatalf("expected no attempt, got state %s attempts %d", h.machine.State(), len(h.attempts))
	}
}

func TestTickRetriesThenGivesUp(t *testing.T) {
	cfg := defaultConnectConfig()
	cfg.MaxRetries = 2
	h := newHarness(t, cfg)
	if err := h.machine.Connect(context.Background(), "alpha", ""); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	//1.- Ticks before the deadline do nothing.
	h.now = h.now.Add(cfg.AttemptTimeout / 2)
	h.machine.Tick(context.Background())
	if len(h.attempts) != 1 {
		t.Fatalf("expected no resend before the deadline, got %d", len(h.attempts))
	}

	//2.- Each expired deadline resends until the retry budget is spent.
	for i := 0; i < cfg.MaxRetries; i++ {
		h.now = h.now.Add(cfg.AttemptTimeout)
		h.machine.Tick(context.Background())
	}
	if len(h.attempts) != 3 || h.machine.Status().Retries != 2 {
		t.Fatalf("expected 3 handshakes and 2 retries, got %d/%d", len(h.attempts), h.machine.Status().Retries)
	}

	h.now = h.now.Add(cfg.AttemptTimeout)
	h.machine.Tick(context.Background())
	status := h.machine.Status()
	if status.State != Disconnected || status.Reason != ReasonTimeout || status.Detail == "" {
		t.Fatalf("expected timeout disconnect, got %+v", status)
	}
	if len(h.teardowns) != 1 || h.teardowns[0] != ReasonTimeout {
		t.Fatalf("expected cancelled attempt teardown, got %v", h.teardowns)
	}
}

func TestAcceptVersionMismatchIsFatal(t *testing.T) {
	h := newHarness(t, defaultConnectConfig())
	_ = h.machine.Connect(context.Background(), "alpha", "")
	err := h.machine.Accept(protocol.Version+1, "abc")
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
	if status := h.machine.Status(); status.State != Disconnected || status.Reason != ReasonProtocol {
		t.Fatalf("expected protocol disconnect, got %+v", status)
	}
}

func TestAcceptOutsideHandshakeIsRejected(t *testing.T) {
	h := newHarness(t, defaultConnectConfig())
	if err := h.machine.Accept(protocol.Version, ""); !errors.Is(err, ErrNotConnecting) {
		t.Fatalf("expected ErrNotConnecting, got %v", err)
	}
}

func TestConnectedServerSilenceTimesOut(t *testing.T) {
	h := newHarness(t, defaultConnectConfig())
	_ = h.machine.Connect(context.Background(), "beta", "")
	if err := h.machine.Accept(protocol.Version, "d1g3st"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	status := h.machine.Status()
	if status.State != Connected || status.Address != "10.0.0.2:10667" || status.Digest != "d1g3st" {
		t.Fatalf("unexpected connected status %+v", status)
	}

	h.now = h.now.Add(config.DefaultServerTimeout / 2)
	h.machine.Heard()
	h.now = h.now.Add(config.DefaultServerTimeout)
	h.machine.Tick(context.Background())
	if h.machine.State() != Connected {
		t.Fatal("expected traffic to keep the connection alive")
	}

	h.now = h.now.Add(config.DefaultServerTimeout)
	h.machine.Tick(context.Background())
	if status := h.machine.Status(); status.State != Disconnected || status.Reason != ReasonTimeout {
		t.Fatalf("expected silence timeout, got %+v", status)
	}
}

func TestReconnectReturnsToLastServer(t *testing.T) {
	h := newHarness(t, defaultConnectConfig())
	var states []State
	h.machine.OnTransition(func(_, to Status) { states = append(states, to.State) })

	_ = h.machine.Connect(context.Background(), "alpha", "pw")
	_ = h.machine.Accept(protocol.Version, "")
	first := h.machine.Status().SessionID

	//1.- A reconnect tears the session down and immediately starts a new handshake.
	if err := h.machine.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	status := h.machine.Status()
	if status.State != Connecting || status.Target != "10.0.0.1:10666" {
		t.Fatalf("expected connecting to last server, got %+v", status)
	}
	if status.SessionID == first {
		t.Fatal("expected a fresh session id")
	}
	if len(h.teardowns) != 1 {
		t.Fatalf("expected one teardown, got %d", len(h.teardowns))
	}
	want := []State{Connecting, Connected, Disconnected, Reconnecting, Connecting}
	if len(states) != len(want) {
		t.Fatalf("unexpected transitions %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("unexpected transitions %v", states)
		}
	}
	if h.attempts[len(h.attempts)-1].PasswordDigest != PasswordDigest("pw") {
		t.Fatal("expected reconnect to reuse the password digest")
	}

	//2.- A second request inside the throttle interval waits for Tick.
	if err := h.machine.Reconnect(context.Background()); err != nil {
		t.Fatalf("second reconnect failed: %v", err)
	}
	if h.machine.State() != Reconnecting {
		t.Fatalf("expected throttled reconnect, got %s", h.machine.State())
	}
	h.now = h.now.Add(config.DefaultReconnectInterval)
	h.machine.Tick(context.Background())
	if h.machine.State() != Connecting {
		t.Fatalf("expected reconnect after the interval, got %s", h.machine.State())
	}
}

func TestReconnectWithoutPriorAddress(t *testing.T) {
	h := newHarness(t, defaultConnectConfig())
	if err := h.machine.Reconnect(context.Background()); !errors.Is(err, ErrNoPriorAddress) {
		t.Fatalf("expected ErrNoPriorAddress, got %v", err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t, defaultConnectConfig())
	_ = h.machine.Connect(context.Background(), "alpha", "")
	_ = h.machine.Accept(protocol.Version, "")
	if !h.machine.Disconnect(ReasonUser, "") {
		t.Fatal("expected first disconnect to tear down")
	}
	if h.machine.Disconnect(ReasonUser, "") {
		t.Fatal("expected second disconnect to be a no-op")
	}
	status := h.machine.Status()
	if status.Detail != "disconnected by user" || status.LastAddress != "10.0.0.1:10666" {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(h.teardowns) != 1 {
		t.Fatalf("expected one teardown, got %d", len(h.teardowns))
	}
}

func TestSplitAddress(t *testing.T) {
	cases := []struct {
		in       string
		host     string
		port     int
		expected bool
	}{
		{in: "example.org", host: "example.org", port: 10666, expected: true},
		{in: "example.org:10700", host: "example.org", port: 10700, expected: true},
		{in: "[::1]:5029", host: "::1", port: 5029, expected: true},
		{in: "::1", host: "::1", port: 10666, expected: true},
		{in: "host:notaport", expected: false},
		{in: "  ", expected: false},
	}
	for _, tc := range cases {
		host, port, err := SplitAddress(tc.in, 10666)
		if (err == nil) != tc.expected {
			t.Fatalf("%q: unexpected error state %v", tc.in, err)
		}
		if tc.expected && (host != tc.host || port != tc.port) {
			t.Fatalf("%q: expected %s:%d, got %s:%d", tc.in, tc.host, tc.port, host, port)
		}
	}
}

func TestNetResolverUsesLookup(t *testing.T) {
	resolver := NewNetResolver(10666)
	resolver.Lookup = func(_ context.Context, host string) ([]string, error) {
		if host != "game.example" {
			t.Fatalf("unexpected lookup %q", host)
		}
		return []string{"192.0.2.7"}, nil
	}
	target, err := resolver.Resolve(context.Background(), "game.example")
	if err != nil || target != "192.0.2.7:10666" {
		t.Fatalf("unexpected resolution %q %v", target, err)
	}
	literal, err := resolver.Resolve(context.Background(), "127.0.0.1:5000")
	if err != nil || literal != "127.0.0.1:5000" {
		t.Fatalf("unexpected literal resolution %q %v", literal, err)
	}
}
