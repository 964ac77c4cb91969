package snapshot

// DefaultCapacity is the number of ticks of history kept per subject.
const DefaultCapacity = 32

// Record is a value stamped with the server tick it describes.
type Record interface {
	Tick() int
}

// History is a bounded ring of records with strictly increasing ticks.
// Every operation is total; absent data is reported through ok results.
type History[T Record] struct {
	buf  []T
	head int
	size int
}

// NewHistory allocates a ring holding at most capacity records.
func NewHistory[T Record](capacity int) *History[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History[T]{buf: make([]T, capacity)}
}

// Len reports how many records are stored.
func (h *History[T]) Len() int {
	if h == nil {
		return 0
	}
	return h.size
}

// Cap reports the ring capacity.
func (h *History[T]) Cap() int {
	if h == nil {
		return 0
	}
	return len(h.buf)
}

func (h *History[T]) at(i int) T {
	return h.buf[(h.head+i)%len(h.buf)]
}

// Add appends a record, evicting the oldest when full. Records whose tick is
// not positive or not greater than the newest stored tick are ignored.
func (h *History[T]) Add(record T) bool {
	if h == nil || record.Tick() <= 0 {
		return false
	}
	if newest, ok := h.Newest(); ok && record.Tick() <= newest.Tick() {
		return false
	}
	if h.size == len(h.buf) {
		h.buf[h.head] = record
		h.head = (h.head + 1) % len(h.buf)
		return true
	}
	h.buf[(h.head+h.size)%len(h.buf)] = record
	h.size++
	return true
}

// Get returns the record with the greatest tick not after tick.
func (h *History[T]) Get(tick int) (T, bool) {
	var zero T
	if h == nil {
		return zero, false
	}
	for i := h.size - 1; i >= 0; i-- {
		if record := h.at(i); record.Tick() <= tick {
			return record, true
		}
	}
	return zero, false
}

// At returns the record stored for exactly tick.
func (h *History[T]) At(tick int) (T, bool) {
	record, ok := h.Get(tick)
	if !ok || record.Tick() != tick {
		var zero T
		return zero, false
	}
	return record, true
}

// after returns the oldest record with a tick greater than tick.
func (h *History[T]) after(tick int) (T, bool) {
	var zero T
	if h == nil {
		return zero, false
	}
	for i := 0; i < h.size; i++ {
		if record := h.at(i); record.Tick() > tick {
			return record, true
		}
	}
	return zero, false
}

// Newest returns the most recent record.
func (h *History[T]) Newest() (T, bool) {
	var zero T
	if h == nil || h.size == 0 {
		return zero, false
	}
	return h.at(h.size - 1), true
}

// Oldest returns the least recent record still retained.
func (h *History[T]) Oldest() (T, bool) {
	var zero T
	if h == nil || h.size == 0 {
		return zero, false
	}
	return h.at(0), true
}

// Clear drops every record.
func (h *History[T]) Clear() {
	if h == nil {
		return
	}
	var zero T
	for i := range h.buf {
		h.buf[i] = zero
	}
	h.head = 0
	h.size = 0
}

// Prune drops records older than current-maxAge and reports whether the
// history is now empty so owners can release it.
func (h *History[T]) Prune(current, maxAge int) bool {
	if h == nil {
		return true
	}
	cutoff := current - maxAge
	var zero T
	for h.size > 0 && h.at(0).Tick() < cutoff {
		h.buf[h.head] = zero
		h.head = (h.head + 1) % len(h.buf)
		h.size--
	}
	if h.size == 0 {
		h.head = 0
	}
	return h.size == 0
}

// Each visits records from oldest to newest until fn returns false.
func (h *History[T]) Each(fn func(T) bool) {
	if h == nil || fn == nil {
		return
	}
	for i := 0; i < h.size; i++ {
		if !fn(h.at(i)) {
			return
		}
	}
}
