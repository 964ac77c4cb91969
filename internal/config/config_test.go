package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadUsesDocumentedDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Transport != DefaultTransport {
		t.Fatalf("expected default transport %q, got %q", DefaultTransport, cfg.Transport)
	}
	if cfg.TickRate != DefaultTickRate {
		t.Fatalf("expected default tick rate %v, got %v", DefaultTickRate, cfg.TickRate)
	}
	if !cfg.Sync.Interpolate || cfg.Sync.Delay != DefaultInterpDelay || cfg.Sync.ResyncWindow != DefaultResyncWindow {
		t.Fatalf("unexpected sync defaults %+v", cfg.Sync)
	}
	if cfg.Sync.CorrectionPeriod != DefaultCorrectionPeriod {
		t.Fatalf("expected correction period %v, got %v", DefaultCorrectionPeriod, cfg.Sync.CorrectionPeriod)
	}
	if cfg.Connect.DefaultPort != DefaultServerPort || cfg.Connect.AttemptTimeout != DefaultAttemptTimeout {
		t.Fatalf("unexpected connect defaults %+v", cfg.Connect)
	}
	if cfg.NetDemo.Dir != DefaultNetDemoDir || !cfg.NetDemo.SplitOnReconnect || cfg.NetDemo.SplitOnMapChange {
		t.Fatalf("unexpected netdemo defaults %+v", cfg.NetDemo)
	}
	if cfg.Logging.Path != DefaultLogPath || cfg.Logging.MaxSizeMB != DefaultLogMaxSizeMB {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NETSYNC_SERVER", " 10.0.0.5:10667 ")
	t.Setenv("NETSYNC_TRANSPORT", "WebSocket")
	t.Setenv("NETSYNC_COMPRESSION", "zstd")
	t.Setenv("NETSYNC_INTERP_DELAY", "3")
	t.Setenv("NETSYNC_RESYNC_WINDOW", "24")
	t.Setenv("NETSYNC_ATTEMPT_TIMEOUT", "2500ms")
	t.Setenv("NETSYNC_NETDEMO_SPLIT_MAPS", "true")
	t.Setenv("NETSYNC_LOG_MAX_BACKUPS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Server != "10.0.0.5:10667" {
		t.Fatalf("unexpected server: %q", cfg.Server)
	}
	if cfg.Transport != "websocket" || cfg.Compression != "zstd" {
		t.Fatalf("unexpected transport/compression %q/%q", cfg.Transport, cfg.Compression)
	}
	if cfg.Sync.Delay != 3 || cfg.Sync.ResyncWindow != 24 {
		t.Fatalf("unexpected sync overrides %+v", cfg.Sync)
	}
	if cfg.Connect.AttemptTimeout != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s attempt timeout, got %v", cfg.Connect.AttemptTimeout)
	}
	if !cfg.NetDemo.SplitOnMapChange {
		t.Fatal("expected map splitting to be enabled")
	}
	if cfg.Logging.MaxBackups != 3 {
		t.Fatalf("expected 3 log backups, got %d", cfg.Logging.MaxBackups)
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	t.Setenv("NETSYNC_CORRECTION_PERIOD", "2")
	t.Setenv("NETSYNC_DEFAULT_PORT", "70000")
	t.Setenv("NETSYNC_LOG_MAX_SIZE_MB", "0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, key := range []string{"NETSYNC_CORRECTION_PERIOD", "NETSYNC_DEFAULT_PORT", "NETSYNC_LOG_MAX_SIZE_MB"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error, got %v", key, err)
		}
	}
}

func TestLoadReportsParseErrors(t *testing.T) {
	t.Setenv("NETSYNC_MAX_RETRIES", "many")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse env") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
