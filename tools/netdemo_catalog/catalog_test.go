package netdemocatalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"netsync/client/internal/netdemo"
)

func writeDemo(t *testing.T, path, session string, maps []string, lastTick int) {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC) }
	writer, err := netdemo.Create(path, session, clock)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i, name := range maps {
		if err := writer.MarkMap(i*10, name); err != nil {
			t.Fatalf("MarkMap: %v", err)
		}
	}
	if err := writer.WriteSnapshot(0, []byte("state")); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	for tick := 0; tick <= lastTick; tick++ {
		if err := writer.WriteMessage(tick, []byte{0, 0}); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestListCollectsNetdemos(t *testing.T) {
	dir := t.TempDir()
	writeDemo(t, filepath.Join(dir, "beta", "duel"+netdemo.Extension), "session-b", []string{"MAP02"}, 70)
	writeDemo(t, filepath.Join(dir, "alpha"+netdemo.Extension), "session-a", []string{"MAP01", "MAP03"}, 35)
	if err := os.WriteFile(filepath.Join(dir, "broken"+netdemo.Extension), []byte("not a demo"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	entries, skipped, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(skipped) != 1 || filepath.Base(skipped[0].Path) != "broken"+netdemo.Extension {
		t.Fatalf("expected the broken file to be skipped, got %+v", skipped)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	first := entries[0]
	if first.Session != "session-a" || len(first.Maps) != 2 || first.Maps[1] != "MAP03" {
		t.Fatalf("unexpected first entry %+v", first)
	}
	if first.Messages != 36 || first.Snapshots != 1 || first.Ticks() != 35 {
		t.Fatalf("unexpected counters %+v", first)
	}
	if got := first.Duration(35); got != time.Second {
		t.Fatalf("expected one second of play, got %s", got)
	}
	if entries[1].Session != "session-b" || entries[1].Size <= 0 {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
	if TotalSize(entries) != uint64(entries[0].Size+entries[1].Size) {
		t.Fatalf("total size does not add up")
	}

	payload, err := MarshalEntries(entries)
	if err != nil {
		t.Fatalf("MarshalEntries: %v", err)
	}
	var decoded []Entry
	if err := json.Unmarshal(payload, &decoded); err != nil || len(decoded) != 2 {
		t.Fatalf("unexpected JSON payload: %v", err)
	}
}

func TestListRejectsFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := List(path); err == nil {
		t.Fatal("expected an error for a non-directory root")
	}
	if _, _, err := List("  "); err == nil {
		t.Fatal("expected an error for an empty root")
	}
}
