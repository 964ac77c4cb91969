package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// DefaultTransport selects the datagram transport used to reach servers.
	DefaultTransport = "udp"
	// DefaultTickRate is the simulation frequency shared with the server.
	DefaultTickRate = 35.0
	// DefaultCompression names the codec used for outbound packet bodies.
	DefaultCompression = "lz4"
	// DefaultHistorySize is the number of ticks kept per snapshot history.
	DefaultHistorySize = 32
	// DefaultOutboundRate caps upload bandwidth in bytes per second.
	DefaultOutboundRate = 14400.0 / 8.0

	// DefaultInterpolate enables rendering slightly in the past.
	DefaultInterpolate = true
	// DefaultInterpDelay is how many ticks behind the server the client renders.
	DefaultInterpDelay = 1
	// DefaultMaxInterpDelay clamps the interpolation delay.
	DefaultMaxInterpDelay = 4
	// DefaultCorrectionPeriod scales how quickly drift is corrected.
	DefaultCorrectionPeriod = 1.0 / 16.0
	// DefaultResyncWindow bounds how far world_index may drift before a hard resync.
	DefaultResyncWindow = 16

	// DefaultServerPort is used when an address names no port.
	DefaultServerPort = 10666
	// DefaultAttemptTimeout is how long one connection attempt waits for an answer.
	DefaultAttemptTimeout = time.Second
	// DefaultMaxRetries bounds connection attempts before giving up.
	DefaultMaxRetries = 10
	// DefaultServerTimeout drops a connection when the server goes silent.
	DefaultServerTimeout = 65 * time.Second / 35
	// DefaultReconnectInterval spaces reconnect requests.
	DefaultReconnectInterval = time.Second

	// DefaultResourceDir holds the map resources the server may require.
	DefaultResourceDir = "resources"
	// DefaultNetDemoDir is where netdemos are written.
	DefaultNetDemoDir = "netdemos"
	// DefaultNetDemoSnapshotInterval is how many ticks separate full snapshots.
	DefaultNetDemoSnapshotInterval = 20 * 35
	// DefaultSplitOnReconnect splits a recording after a server-initiated reconnect.
	DefaultSplitOnReconnect = true
	// DefaultNetDemoMaxFiles bounds how many recordings are kept on disk.
	DefaultNetDemoMaxFiles = 50

	// DefaultMaxUnlagTicks caps how far lag compensation rewinds.
	DefaultMaxUnlagTicks = 35

	// DefaultLogLevel controls verbosity for client logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "netclient.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the client engine.
type Config struct {
	Server            string  `env:"NETSYNC_SERVER"`
	Password          string  `env:"NETSYNC_PASSWORD"`
	Transport         string  `env:"NETSYNC_TRANSPORT"`
	TickRate          float64 `env:"NETSYNC_TICK_RATE"`
	Compression       string  `env:"NETSYNC_COMPRESSION"`
	HistorySize       int     `env:"NETSYNC_HISTORY_SIZE"`
	ResourceDir       string  `env:"NETSYNC_RESOURCE_DIR"`
	DiagnosticsAddr   string  `env:"NETSYNC_DIAGNOSTICS_ADDR"`
	// DiagnosticsSecret, when set, must accompany every diagnostics call.
	DiagnosticsSecret string  `env:"NETSYNC_DIAGNOSTICS_SECRET"`
	OutboundRate      float64 `env:"NETSYNC_OUTBOUND_RATE"`

	Sync    SyncConfig
	Connect ConnectConfig
	NetDemo NetDemoConfig
	Unlag   UnlagConfig
	Logging LoggingConfig
}

// SyncConfig tunes the world clock.
type SyncConfig struct {
	Interpolate      bool    `env:"NETSYNC_INTERPOLATE"`
	Delay            int     `env:"NETSYNC_INTERP_DELAY"`
	MaxDelay         int     `env:"NETSYNC_INTERP_MAX_DELAY"`
	CorrectionPeriod float64 `env:"NETSYNC_CORRECTION_PERIOD"`
	ResyncWindow     int     `env:"NETSYNC_RESYNC_WINDOW"`
}

// ConnectConfig tunes connection retries and timeouts.
type ConnectConfig struct {
	DefaultPort       int           `env:"NETSYNC_DEFAULT_PORT"`
	AttemptTimeout    time.Duration `env:"NETSYNC_ATTEMPT_TIMEOUT"`
	MaxRetries        int           `env:"NETSYNC_MAX_RETRIES"`
	ServerTimeout     time.Duration `env:"NETSYNC_SERVER_TIMEOUT"`
	ReconnectInterval time.Duration `env:"NETSYNC_RECONNECT_INTERVAL"`
}

// NetDemoConfig controls recording and playback.
type NetDemoConfig struct {
	Dir              string `env:"NETSYNC_NETDEMO_DIR"`
	SnapshotInterval int    `env:"NETSYNC_NETDEMO_SNAPSHOT_INTERVAL"`
	SplitOnMapChange bool   `env:"NETSYNC_NETDEMO_SPLIT_MAPS"`
	SplitOnReconnect bool   `env:"NETSYNC_NETDEMO_SPLIT_RECONNECT"`
	Record           bool   `env:"NETSYNC_NETDEMO_RECORD"`
	Play             string `env:"NETSYNC_NETDEMO_PLAY"`
	// MaxFiles and MaxAge bound the retained recordings; zero disables a limit.
	MaxFiles int           `env:"NETSYNC_NETDEMO_MAX_FILES"`
	MaxAge   time.Duration `env:"NETSYNC_NETDEMO_MAX_AGE"`
}

// UnlagConfig bounds lag compensation.
type UnlagConfig struct {
	MaxTicks int `env:"NETSYNC_MAX_UNLAG_TICKS"`
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string `env:"NETSYNC_LOG_LEVEL"`
	Path       string `env:"NETSYNC_LOG_PATH"`
	MaxSizeMB  int    `env:"NETSYNC_LOG_MAX_SIZE_MB"`
	MaxBackups int    `env:"NETSYNC_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `env:"NETSYNC_LOG_MAX_AGE_DAYS"`
	Compress   bool   `env:"NETSYNC_LOG_COMPRESS"`
}

// Defaults returns a configuration populated with the documented defaults.
func Defaults() *Config {
	return &Config{
		Transport:    DefaultTransport,
		TickRate:     DefaultTickRate,
		Compression:  DefaultCompression,
		HistorySize:  DefaultHistorySize,
		ResourceDir:  DefaultResourceDir,
		OutboundRate: DefaultOutboundRate,
		Sync: SyncConfig{
			Interpolate:      DefaultInterpolate,
			Delay:            DefaultInterpDelay,
			MaxDelay:         DefaultMaxInterpDelay,
			CorrectionPeriod: DefaultCorrectionPeriod,
			ResyncWindow:     DefaultResyncWindow,
		},
		Connect: ConnectConfig{
			DefaultPort:       DefaultServerPort,
			AttemptTimeout:    DefaultAttemptTimeout,
			MaxRetries:        DefaultMaxRetries,
			ServerTimeout:     DefaultServerTimeout,
			ReconnectInterval: DefaultReconnectInterval,
		},
		NetDemo: NetDemoConfig{
			Dir:              DefaultNetDemoDir,
			SnapshotInterval: DefaultNetDemoSnapshotInterval,
			SplitOnReconnect: DefaultSplitOnReconnect,
			MaxFiles:         DefaultNetDemoMaxFiles,
		},
		Unlag: UnlagConfig{MaxTicks: DefaultMaxUnlagTicks},
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}
}

// Load reads the client configuration from environment variables, applying
// defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalise() {
	c.Server = strings.TrimSpace(c.Server)
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.Compression = strings.ToLower(strings.TrimSpace(c.Compression))
	c.ResourceDir = strings.TrimSpace(c.ResourceDir)
	c.DiagnosticsAddr = strings.TrimSpace(c.DiagnosticsAddr)
	c.DiagnosticsSecret = strings.TrimSpace(c.DiagnosticsSecret)
	c.NetDemo.Dir = strings.TrimSpace(c.NetDemo.Dir)
	c.NetDemo.Play = strings.TrimSpace(c.NetDemo.Play)
	c.Logging.Level = strings.TrimSpace(c.Logging.Level)
	c.Logging.Path = strings.TrimSpace(c.Logging.Path)
}

// Validate collects every invalid setting into a single error.
func (c *Config) Validate() error {
	var problems []string

	switch c.Transport {
	case "udp", "websocket":
	default:
		problems = append(problems, fmt.Sprintf("NETSYNC_TRANSPORT must be udp or websocket, got %q", c.Transport))
	}
	if c.TickRate <= 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_TICK_RATE must be positive, got %v", c.TickRate))
	}
	switch c.Compression {
	case "none", "lz4", "snappy", "zstd":
	default:
		problems = append(problems, fmt.Sprintf("NETSYNC_COMPRESSION must be one of none, lz4, snappy, zstd, got %q", c.Compression))
	}
	if c.OutboundRate <= 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_OUTBOUND_RATE must be positive, got %v", c.OutboundRate))
	}
	if c.HistorySize <= 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_HISTORY_SIZE must be a positive integer, got %d", c.HistorySize))
	}

	if c.Sync.MaxDelay < 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_INTERP_MAX_DELAY must be non-negative, got %d", c.Sync.MaxDelay))
	}
	if c.Sync.CorrectionPeriod <= 0 || c.Sync.CorrectionPeriod > 1 {
		problems = append(problems, fmt.Sprintf("NETSYNC_CORRECTION_PERIOD must be in (0, 1], got %v", c.Sync.CorrectionPeriod))
	}
	if c.Sync.ResyncWindow <= 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_RESYNC_WINDOW must be a positive integer, got %d", c.Sync.ResyncWindow))
	}

	if c.Connect.DefaultPort <= 0 || c.Connect.DefaultPort > 65535 {
		problems = append(problems, fmt.Sprintf("NETSYNC_DEFAULT_PORT must be a valid port, got %d", c.Connect.DefaultPort))
	}
	if c.Connect.AttemptTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_ATTEMPT_TIMEOUT must be a positive duration, got %v", c.Connect.AttemptTimeout))
	}
	if c.Connect.MaxRetries < 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_MAX_RETRIES must be non-negative, got %d", c.Connect.MaxRetries))
	}
	if c.Connect.ServerTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_SERVER_TIMEOUT must be a positive duration, got %v", c.Connect.ServerTimeout))
	}
	if c.Connect.ReconnectInterval < 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_RECONNECT_INTERVAL must be non-negative, got %v", c.Connect.ReconnectInterval))
	}

	if c.NetDemo.SnapshotInterval < 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_NETDEMO_SNAPSHOT_INTERVAL must be non-negative, got %d", c.NetDemo.SnapshotInterval))
	}
	if c.NetDemo.Record && c.NetDemo.Dir == "" {
		problems = append(problems, "NETSYNC_NETDEMO_DIR must be set when NETSYNC_NETDEMO_RECORD is enabled")
	}
	if c.NetDemo.Play != "" && c.Server != "" {
		problems = append(problems, "NETSYNC_NETDEMO_PLAY and NETSYNC_SERVER are mutually exclusive")
	}
	if c.NetDemo.MaxFiles < 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_NETDEMO_MAX_FILES must be non-negative, got %d", c.NetDemo.MaxFiles))
	}
	if c.NetDemo.MaxAge < 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_NETDEMO_MAX_AGE must be non-negative, got %v", c.NetDemo.MaxAge))
	}
	if c.Unlag.MaxTicks < 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_MAX_UNLAG_TICKS must be non-negative, got %d", c.Unlag.MaxTicks))
	}

	if c.Logging.MaxSizeMB <= 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_LOG_MAX_SIZE_MB must be a positive integer, got %d", c.Logging.MaxSizeMB))
	}
	if c.Logging.MaxBackups < 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_LOG_MAX_BACKUPS must be a non-negative integer, got %d", c.Logging.MaxBackups))
	}
	if c.Logging.MaxAgeDays < 0 {
		problems = append(problems, fmt.Sprintf("NETSYNC_LOG_MAX_AGE_DAYS must be a non-negative integer, got %d", c.Logging.MaxAgeDays))
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
