package netstats

import (
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultOutboundBytesPerSecond caps client upload at the classic 14.4 kbps modem rate.
const DefaultOutboundBytesPerSecond = 14400.0 / 8.0

// Direction distinguishes traffic from and to the server.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Usage captures the traffic counters for one direction.
type Usage struct {
	Direction       Direction
	Bytes           int64
	Packets         int64
	Dropped         int64
	BytesPerSecond  float64
	ObservedSeconds float64
	LastUpdated     time.Time
}

// MessageUsage is the cumulative size of one message type.
type MessageUsage struct {
	Name  string
	Count int64
	Bytes int64
}

type counter struct {
	bytes   int64
	packets int64
	dropped int64
	window  time.Time
	last    time.Time
}

// Meter measures traffic for the net graph and enforces an outbound byte
// budget holding one second of upload.
type Meter struct {
	mu       sync.Mutex
	counters map[Direction]*counter
	messages map[string]*MessageUsage
	now      func() time.Time

	budget *rate.Limiter
	denied int64
}

// NewMeter constructs a meter enforcing the supplied outbound byte rate.
func NewMeter(outboundBytesPerSecond float64, clock func() time.Time) *Meter {
	//1.- Normalise the configuration so downstream logic operates with sane defaults.
	if outboundBytesPerSecond <= 0 {
		outboundBytesPerSecond = DefaultOutboundBytesPerSecond
	}
	if clock == nil {
		clock = time.Now
	}
	burst := int(math.Ceil(outboundBytesPerSecond))
	return &Meter{
		counters: make(map[Direction]*counter),
		messages: make(map[string]*MessageUsage),
		now:      clock,
		budget:   rate.NewLimiter(rate.Limit(outboundBytesPerSecond), burst),
	}
}

func (m *Meter) counterLocked(dir Direction, now time.Time) *counter {
	c := m.counters[dir]
	if c == nil {
		c = &counter{window: now, last: now}
		m.counters[dir] = c
	}
	return c
}

// Observe records one packet of size bytes in the given direction.
func (m *Meter) Observe(dir Direction, size int) {
	if m == nil || size < 0 {
		return
	}
	m.mu.Lock()
	now := m.now()
	c := m.counterLocked(dir, now)
	c.bytes += int64(size)
	c.packets++
	c.last = now
	m.mu.Unlock()
}

// Drop records a datagram that was discarded before dispatch.
func (m *Meter) Drop(dir Direction) {
	if m == nil {
		return
	}
	m.mu.Lock()
	now := m.now()
	m.counterLocked(dir, now).dropped++
	m.mu.Unlock()
}

// ObserveMessage accumulates per-message-type byte counts.
func (m *Meter) ObserveMessage(name string, size int) {
	if m == nil || name == "" {
		return
	}
	m.mu.Lock()
	usage := m.messages[name]
	if usage == nil {
		usage = &MessageUsage{Name: name}
		m.messages[name] = usage
	}
	usage.Count++
	usage.Bytes += int64(size)
	m.mu.Unlock()
}

// Allow charges an outbound payload against the upload budget.
func (m *Meter) Allow(size int) bool {
	if m == nil || size <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.budget.AllowN(m.now(), size) {
		m.denied++
		return false
	}
	return true
}

// Denied reports how many outbound payloads exceeded the budget.
func (m *Meter) Denied() int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.denied
}

// Snapshot reports the traffic counters per direction.
func (m *Meter) Snapshot() map[Direction]Usage {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.counters) == 0 {
		return nil
	}
	now := m.now()
	out := make(map[Direction]Usage, len(m.counters))
	for dir, c := range m.counters {
		//1.- Derive the sustained throughput over the whole observation window.
		observed := math.Max(now.Sub(c.window).Seconds(), 0)
		rate := 0.0
		if observed > 0 {
			rate = float64(c.bytes) / observed
		}
		out[dir] = Usage{
			Direction:       dir,
			Bytes:           c.bytes,
			Packets:         c.packets,
			Dropped:         c.dropped,
			BytesPerSecond:  rate,
			ObservedSeconds: observed,
			LastUpdated:     c.last,
		}
	}
	return out
}

// Messages returns per-type usage sorted by descending byte count.
func (m *Meter) Messages() []MessageUsage {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	out := make([]MessageUsage, 0, len(m.messages))
	for _, usage := range m.messages {
		out = append(out, *usage)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Reset clears every counter, used when a new connection starts.
func (m *Meter) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters = make(map[Direction]*counter)
	m.messages = make(map[string]*MessageUsage)
	m.budget = rate.NewLimiter(m.budget.Limit(), m.budget.Burst())
	m.denied = 0
	m.mu.Unlock()
}
