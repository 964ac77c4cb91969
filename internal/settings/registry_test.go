package settings

import (
	"errors"
	"testing"
)

func TestOverrideAndRestore(t *testing.T) {
	registry := NewRegistry(map[string]string{"cl_interp": "1", "sv_unlag": "true"})
	var seen []string
	registry.Watch("cl_interp", func(name, value string) { seen = append(seen, value) })

	if err := registry.Override("cl_interp", "3"); err != nil {
		t.Fatalf("override failed: %v", err)
	}
	if err := registry.Override("cl_interp", "2"); err != nil {
		t.Fatalf("second override failed: %v", err)
	}
	if registry.Int("cl_interp", 0) != 2 {
		t.Fatalf("expected overridden value 2, got %d", registry.Int("cl_interp", 0))
	}
	if got := registry.Overridden(); len(got) != 1 || got[0] != "cl_interp" {
		t.Fatalf("unexpected overridden list %v", got)
	}

	if restored := registry.Restore(); restored != 1 {
		t.Fatalf("expected one restored setting, got %d", restored)
	}
	if value, _ := registry.Get("cl_interp"); value != "1" {
		t.Fatalf("expected user value restored, got %q", value)
	}
	if len(seen) != 3 || seen[2] != "1" {
		t.Fatalf("unexpected watcher calls %v", seen)
	}
	if registry.Restore() != 0 {
		t.Fatal("expected restore to be idempotent")
	}
}

func TestUserChangeDuringOverrideWinsOnRestore(t *testing.T) {
	registry := NewRegistry(map[string]string{"cl_interp": "1"})
	_ = registry.Override("cl_interp", "4")
	if err := registry.Set("cl_interp", "2"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if registry.Int("cl_interp", 0) != 4 {
		t.Fatal("server value must stay active while overridden")
	}
	registry.Restore()
	if registry.Int("cl_interp", 0) != 2 {
		t.Fatalf("expected user change to be restored, got %d", registry.Int("cl_interp", 0))
	}
}

func TestUnknownSettingsAreRejected(t *testing.T) {
	registry := NewRegistry(nil)
	if err := registry.Override("sv_gravity", "800"); !errors.Is(err, ErrUnknownSetting) {
		t.Fatalf("expected unknown setting error, got %v", err)
	}
	if err := registry.Set("sv_gravity", "800"); !errors.Is(err, ErrUnknownSetting) {
		t.Fatalf("expected unknown setting error, got %v", err)
	}
	if registry.Bool("sv_unlag", true) != true {
		t.Fatal("expected fallback for missing setting")
	}
}
