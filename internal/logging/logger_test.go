package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"netsync/client/internal/config"
)

func decodeLines(t *testing.T, raw string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, payload)
	}
	return out
}

func TestWriterLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "warn")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept", String("map", "MAP01"), Tick(12), Error(errors.New("boom")))

	lines := decodeLines(t, buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %s", len(lines), buf.String())
	}
	line := lines[0]
	if line["message"] != "kept" || line["level"] != "warn" || line["map"] != "MAP01" {
		t.Fatalf("unexpected payload %v", line)
	}
	if line["tick"] != float64(12) || line["error"] != "boom" || line["service"] != "netclient" {
		t.Fatalf("unexpected fields %v", line)
	}
}

func TestWithSessionPropagatesThroughContext(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewWithWriter(&buf, "debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	ctx, derived, sid := WithSession(context.Background(), base, "")
	if sid == "" || SessionIDFromContext(ctx) != sid {
		t.Fatalf("expected generated session id in context, got %q", sid)
	}
	if LoggerFromContext(ctx) != derived {
		t.Fatal("expected derived logger in context")
	}
	derived.Debug("connecting")
	lines := decodeLines(t, buf.String())
	if len(lines) != 1 || lines[0][SessionField] != sid {
		t.Fatalf("expected session field %q, got %v", sid, lines)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "info"}); err == nil {
		t.Fatal("expected missing path to fail")
	}
	path := filepath.Join(t.TempDir(), "client.log")
	if _, err := New(config.LoggingConfig{Level: "loud", Path: path, MaxSizeMB: 1}); err == nil {
		t.Fatal("expected unknown level to fail")
	}
}

func TestRotatingWriterRotatesAndCompresses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.log")
	writer, err := newRotatingWriter(config.LoggingConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2, Compress: true})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	writer.maxSize = 64
	for i := 0; i < 4; i++ {
		if _, err := writer.Write(bytes.Repeat([]byte("x"), 40)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := writer.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var rotated int
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "client.log.") {
			rotated++
			if !strings.HasSuffix(entry.Name(), ".gz") {
				t.Fatalf("expected compressed backup, got %s", entry.Name())
			}
		}
	}
	if rotated == 0 || rotated > 2 {
		t.Fatalf("expected between 1 and 2 rotated backups, got %d", rotated)
	}
}
