package settings

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// ErrUnknownSetting reports a name that was never registered.
var ErrUnknownSetting = errors.New("settings: unknown setting")

// ChangeFunc observes a setting changing value.
type ChangeFunc func(name, value string)

// Registry holds named client settings. A server may override any of them
// for the duration of a session; Restore puts back the values the user had.
type Registry struct {
	mu       sync.Mutex
	values   map[string]string
	backups  map[string]string
	watchers map[string][]ChangeFunc
}

// NewRegistry creates a registry seeded with defaults.
func NewRegistry(defaults map[string]string) *Registry {
	r := &Registry{
		values:   make(map[string]string, len(defaults)),
		backups:  make(map[string]string),
		watchers: make(map[string][]ChangeFunc),
	}
	for name, value := range defaults {
		r.values[name] = value
	}
	return r
}

// Watch registers fn to run whenever name changes.
func (r *Registry) Watch(name string, fn ChangeFunc) {
	if r == nil || fn == nil {
		return
	}
	r.mu.Lock()
	r.watchers[name] = append(r.watchers[name], fn)
	r.mu.Unlock()
}

// Get returns the current value.
func (r *Registry) Get(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.values[name]
	return value, ok
}

// Int parses the current value as an integer, returning fallback when the
// setting is missing or not numeric.
func (r *Registry) Int(name string, fallback int) int {
	raw, ok := r.Get(name)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// Bool parses the current value as a boolean with a fallback.
func (r *Registry) Bool(name string, fallback bool) bool {
	raw, ok := r.Get(name)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

// Set changes a setting on behalf of the user. A user change during an
// override replaces the value restored later.
func (r *Registry) Set(name, value string) error {
	if r == nil {
		return ErrUnknownSetting
	}
	r.mu.Lock()
	if _, ok := r.values[name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownSetting, name)
	}
	if _, overridden := r.backups[name]; overridden {
		r.backups[name] = value
		r.mu.Unlock()
		return nil
	}
	watchers := r.applyLocked(name, value)
	r.mu.Unlock()
	notify(watchers, name, value)
	return nil
}

// Override applies a server-controlled value, remembering the user's value
// the first time the setting is overridden.
func (r *Registry) Override(name, value string) error {
	if r == nil {
		return ErrUnknownSetting
	}
	r.mu.Lock()
	current, ok := r.values[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownSetting, name)
	}
	if _, saved := r.backups[name]; !saved {
		r.backups[name] = current
	}
	watchers := r.applyLocked(name, value)
	r.mu.Unlock()
	notify(watchers, name, value)
	return nil
}

// Overridden lists settings currently under server control.
func (r *Registry) Overridden() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.backups))
	for name := range r.backups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Restore reverts every override and reports how many settings changed.
func (r *Registry) Restore() int {
	if r == nil {
		return 0
	}
	type change struct {
		name     string
		value    string
		watchers []ChangeFunc
	}
	r.mu.Lock()
	names := make([]string, 0, len(r.backups))
	for name := range r.backups {
		names = append(names, name)
	}
	sort.Strings(names)
	changes := make([]change, 0, len(names))
	for _, name := range names {
		value := r.backups[name]
		changes = append(changes, change{name: name, value: value, watchers: r.applyLocked(name, value)})
	}
	r.backups = make(map[string]string)
	r.mu.Unlock()

	for _, c := range changes {
		notify(c.watchers, c.name, c.value)
	}
	return len(changes)
}

func (r *Registry) applyLocked(name, value string) []ChangeFunc {
	r.values[name] = value
	return append([]ChangeFunc(nil), r.watchers[name]...)
}

func notify(watchers []ChangeFunc, name, value string) {
	for _, fn := range watchers {
		fn(name, value)
	}
}
