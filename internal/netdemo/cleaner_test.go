package netdemo

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"netsync/client/internal/logging"
)

func writeDemoFile(t *testing.T, dir, name string, modTime time.Time, size int) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}

func TestCleanerKeepsNewestRecordingsWithTheirParts(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	writeDemoFile(t, dir, "alpha.nsd", now.Add(-3*time.Hour), 10)
	writeDemoFile(t, dir, "bravo.nsd", now.Add(-2*time.Hour), 20)
	writeDemoFile(t, dir, "bravo-part2.nsd", now.Add(-90*time.Minute), 30)
	writeDemoFile(t, dir, "charlie.nsd", now.Add(-time.Hour), 40)
	writeDemoFile(t, dir, "notes.txt", now.Add(-48*time.Hour), 5)

	cleaner := NewCleaner(dir, RetentionPolicy{MaxRecordings: 2}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.Sweep()

	want := []string{"bravo-part2.nsd", "bravo.nsd", "charlie.nsd", "notes.txt"}
	got := listDir(t, dir)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	stats := cleaner.Stats()
	if stats.Recordings != 2 || stats.Files != 3 || stats.Bytes != 90 || !stats.LastSweep.Equal(now) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCleanerPrunesByAge(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	writeDemoFile(t, dir, "old.nsd", now.Add(-72*time.Hour), 8)
	writeDemoFile(t, dir, "old-part2.nsd", now.Add(-71*time.Hour), 8)
	writeDemoFile(t, dir, "fresh.nsd", now.Add(-time.Hour), 8)

	cleaner := NewCleaner(dir, RetentionPolicy{MaxAge: 24 * time.Hour}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.Sweep()

	got := listDir(t, dir)
	if len(got) != 1 || got[0] != "fresh.nsd" {
		t.Fatalf("expected only fresh.nsd, got %v", got)
	}
}

func TestCleanerToleratesMissingDirectory(t *testing.T) {
	cleaner := NewCleaner(filepath.Join(t.TempDir(), "absent"), RetentionPolicy{MaxRecordings: 1}, logging.NewTestLogger())
	cleaner.Sweep()
	if stats := cleaner.Stats(); stats.Recordings != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
}
