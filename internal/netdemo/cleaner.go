package netdemo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"netsync/client/internal/config"
	"netsync/client/internal/logging"
)

// RetentionPolicy bounds how many recordings stay on disk.
type RetentionPolicy struct {
	MaxRecordings int
	MaxAge        time.Duration
}

// PolicyFromConfig derives the retention policy from the netdemo settings.
func PolicyFromConfig(cfg config.NetDemoConfig) RetentionPolicy {
	return RetentionPolicy{MaxRecordings: cfg.MaxFiles, MaxAge: cfg.MaxAge}
}

// StorageStats summarises the disk footprint of kept recordings.
type StorageStats struct {
	Recordings int
	Files      int
	Bytes      int64
	LastSweep  time.Time
}

// Cleaner prunes old recordings. The parts of a split recording are kept or
// removed together.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the netdemo directory.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run sweeps on every interval until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.Sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Stats returns the figures of the last sweep.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type recording struct {
	name    string
	paths   []string
	size    int64
	modTime time.Time
}

var partSuffix = regexp.MustCompile(`-part\d+$`)

// recordingName maps a file to the recording it belongs to.
func recordingName(file string) (string, bool) {
	if !strings.EqualFold(filepath.Ext(file), Extension) {
		return "", false
	}
	stem := strings.TrimSuffix(file, filepath.Ext(file))
	return partSuffix.ReplaceAllString(stem, ""), true
}

// Sweep applies the policy once and refreshes the statistics.
func (c *Cleaner) Sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("netdemo retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		}
		return
	}
	//1.- Group split parts so the newest part dates the whole recording.
	recordings := c.collect(entries)
	now := c.now()
	kept := 0
	stats := StorageStats{LastSweep: now}
	for _, rec := range recordings {
		if remove, reasons := c.shouldRemove(rec, now, kept); remove {
			err := c.remove(rec)
			if err == nil {
				c.log.Info("netdemo retention removed recording", logging.String("recording", rec.name), logging.String("reason", reasons))
				continue
			}
			c.log.Warn("netdemo retention removal failed", logging.Error(err), logging.String("recording", rec.name))
		}
		kept++
		stats.Recordings++
		stats.Files += len(rec.paths)
		stats.Bytes += rec.size
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

func (c *Cleaner) collect(entries []os.DirEntry) []*recording {
	grouped := make(map[string]*recording, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := recordingName(entry.Name())
		if !ok {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("netdemo retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		rec := grouped[name]
		if rec == nil {
			rec = &recording{name: name, modTime: info.ModTime()}
			grouped[name] = rec
		}
		if info.ModTime().After(rec.modTime) {
			rec.modTime = info.ModTime()
		}
		rec.paths = append(rec.paths, path)
		rec.size += info.Size()
	}
	list := make([]*recording, 0, len(grouped))
	for _, rec := range grouped {
		list = append(list, rec)
	}
	//2.- Newest first so the count limit keeps recent sessions.
	sort.Slice(list, func(i, j int) bool {
		if list[i].modTime.Equal(list[j].modTime) {
			return list[i].name > list[j].name
		}
		return list[i].modTime.After(list[j].modTime)
	})
	return list
}

func (c *Cleaner) shouldRemove(rec *recording, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(rec.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxRecordings > 0 && kept >= c.policy.MaxRecordings {
		reasons = append(reasons, fmt.Sprintf(">=%d recordings", c.policy.MaxRecordings))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
}

func (c *Cleaner) remove(rec *recording) error {
	var errs error
	for _, path := range rec.paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}
