package netdemocatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"netsync/client/internal/netdemo"
)

// Entry summarises one netdemo file found under the catalog root.
type Entry struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	Session   string    `json:"session"`
	CreatedAt string    `json:"created_at,omitempty"`
	FirstTick int       `json:"first_tick"`
	LastTick  int       `json:"last_tick"`
	Records   int       `json:"records"`
	Messages  int       `json:"messages"`
	Maps      []string  `json:"maps,omitempty"`
	Snapshots int       `json:"snapshots"`
	Reindexed bool      `json:"reindexed,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
}

// Ticks is the span of server ticks the recording covers.
func (e Entry) Ticks() int {
	if e.LastTick < e.FirstTick {
		return 0
	}
	return e.LastTick - e.FirstTick
}

// Duration converts the tick span using the given tick rate.
func (e Entry) Duration(tickRate float64) time.Duration {
	if tickRate <= 0 {
		return 0
	}
	return time.Duration(float64(e.Ticks()) / tickRate * float64(time.Second))
}

// Skipped records a file that could not be parsed.
type Skipped struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// List walks the directory tree and indexes every netdemo it finds. Files
// that fail to parse are reported instead of aborting the walk.
func List(root string) ([]Entry, []Skipped, error) {
	if strings.TrimSpace(root) == "" {
		return nil, nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("root must be a directory")
	}

	var (
		entries []Entry
		skipped []Skipped
	)
	//1.- Walk the directory tree and open every file with the netdemo extension.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), netdemo.Extension) {
			return nil
		}
		fileInfo, err := d.Info()
		if err != nil {
			return err
		}
		demo, err := netdemo.Open(path)
		if err != nil {
			skipped = append(skipped, Skipped{Path: path, Error: err.Error()})
			return nil
		}
		entries = append(entries, entryFor(path, fileInfo, demo))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Session == entries[j].Session {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].Session < entries[j].Session
	})
	return entries, skipped, nil
}

func entryFor(path string, info fs.FileInfo, demo *netdemo.Demo) Entry {
	entry := Entry{
		Path:      path,
		Size:      info.Size(),
		Modified:  info.ModTime().UTC(),
		Session:   demo.Index.Session,
		CreatedAt: demo.Index.CreatedAt,
		FirstTick: demo.Index.FirstTick,
		LastTick:  demo.Index.LastTick,
		Records:   demo.Index.Records,
		Messages:  demo.Messages(),
		Snapshots: len(demo.Index.Snapshots),
		Reindexed: demo.Reindexed,
		Truncated: demo.Truncated,
	}
	for _, mark := range demo.Index.Maps {
		entry.Maps = append(entry.Maps, mark.Name)
	}
	return entry
}

// TotalSize sums the on-disk size of the entries.
func TotalSize(entries []Entry) uint64 {
	var total uint64
	for _, entry := range entries {
		if entry.Size > 0 {
			total += uint64(entry.Size)
		}
	}
	return total
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	//1.- Marshal with indentation to keep CLI output legible for operators.
	return json.MarshalIndent(entries, "", "  ")
}
