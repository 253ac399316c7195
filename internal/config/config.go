package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dshills/voltproxy/internal/volt"
)

// Errors returned by configuration loading and validation.
var (
	// ErrInvalidLogLevel indicates an unrecognized logging level name.
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidLogFormat indicates an unrecognized logging format name.
	ErrInvalidLogFormat = errors.New("invalid log format")

	// ErrInvalidVoltID indicates a disabled-volt entry that is not "author.name".
	ErrInvalidVoltID = errors.New("invalid volt id")
)

// Config is the proxy's complete configuration. The zero value is not
// usable; start from DefaultConfig and overlay a TOML file on top of it.
type Config struct {
	Proxy   ProxyConfig   `toml:"proxy"`
	Volts   VoltsConfig   `toml:"volts"`
	Logging LoggingConfig `toml:"logging"`
}

// ProxyConfig sizes the catalog and its worker pool.
type ProxyConfig struct {
	// Workspace is the workspace root the proxy serves. The -workspace
	// flag overrides it; a file value is a convenience for development.
	Workspace string `toml:"workspace"`

	// QueueSize is the capacity of the catalog notification queue.
	QueueSize int `toml:"queue-size"`

	// Workers is the number of background worker goroutines.
	Workers int `toml:"workers"`

	// WorkerQueueSize is the capacity of the worker pool's job queue.
	WorkerQueueSize int `toml:"worker-queue-size"`

	// ScanTTLMS is how long one workspace scan is reused by the volt
	// activation check, in milliseconds.
	ScanTTLMS int `toml:"scan-ttl-ms"`
}

// VoltsConfig controls volt discovery and activation.
type VoltsConfig struct {
	// Paths lists extra directories searched for volts, highest priority
	// first. The loader's standard paths are always searched as well.
	Paths []string `toml:"paths"`

	// Disabled lists volt ids ("author.name") that are never activated.
	Disabled []string `toml:"disabled"`

	// DebounceMS is the coalescing window for volt directory watch
	// events, in milliseconds.
	DebounceMS int `toml:"debounce-ms"`

	// Config holds per-volt settings keyed by volt name. Each table is
	// handed to the volt unchanged when it starts.
	Config map[string]map[string]any `toml:"config"`
}

// LoggingConfig controls the proxy's structured log output.
type LoggingConfig struct {
	// Level is the minimum level written: debug, info, warn, or error.
	Level string `toml:"level"`

	// Format selects the slog handler: text or json.
	Format string `toml:"format"`

	// File is the log destination. Empty logs to stderr.
	File string `toml:"file"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			QueueSize:       256,
			Workers:         8,
			WorkerQueueSize: 1024,
			ScanTTLMS:       5000,
		},
		Volts: VoltsConfig{
			DebounceMS: 250,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns the user config file path, honoring XDG_CONFIG_HOME.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "voltproxy", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "voltproxy", "config.toml")
}

// LoadFile reads a TOML file over the defaults and validates the result.
// Unknown keys are errors.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads DefaultPath if the file exists, or plain defaults
// if it does not.
func LoadDefault() (*Config, error) {
	path := DefaultPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("checking config file %s: %w", path, err)
	}
	return LoadFile(path)
}

// Validate checks field values. LoadFile calls it; callers that build a
// Config in code should call it themselves.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}
	if c.Proxy.QueueSize <= 0 {
		return fmt.Errorf("queue-size must be positive, got %d", c.Proxy.QueueSize)
	}
	if c.Proxy.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Proxy.Workers)
	}
	if c.Proxy.WorkerQueueSize <= 0 {
		return fmt.Errorf("worker-queue-size must be positive, got %d", c.Proxy.WorkerQueueSize)
	}
	if c.Proxy.ScanTTLMS < 0 {
		return fmt.Errorf("scan-ttl-ms must not be negative, got %d", c.Proxy.ScanTTLMS)
	}
	if c.Volts.DebounceMS < 0 {
		return fmt.Errorf("debounce-ms must not be negative, got %d", c.Volts.DebounceMS)
	}
	for _, raw := range c.Volts.Disabled {
		if !volt.ID(raw).Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidVoltID, raw)
		}
	}
	return nil
}

// LogLevel maps the configured level name to a slog level.
func (c *Config) LogLevel() slog.Level {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, name)
}

// DisabledIDs returns the disabled volt list as typed ids. Validate
// guarantees every entry parses.
func (c *Config) DisabledIDs() []volt.ID {
	if len(c.Volts.Disabled) == 0 {
		return nil
	}
	ids := make([]volt.ID, 0, len(c.Volts.Disabled))
	for _, raw := range c.Volts.Disabled {
		ids = append(ids, volt.ID(raw))
	}
	return ids
}

// ScanTTL returns the workspace scan cache lifetime.
func (c *Config) ScanTTL() time.Duration {
	return time.Duration(c.Proxy.ScanTTLMS) * time.Millisecond
}

// Debounce returns the volt watcher coalescing window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Volts.DebounceMS) * time.Millisecond
}
