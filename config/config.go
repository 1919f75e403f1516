// Package config handles bfrt daemon and CLI configuration.
//
// Configuration is loaded with overlay semantics:
//
//  1. Start with built-in defaults (embedded from default.toml)
//  2. Overlay with config file values (if the file exists)
//  3. CLI flags and environment variables override at runtime (handled
//     by the CLI layer)
//
// The TOML decoder only sets fields present in the file, leaving the
// rest at their defaults. A config file that exists but does not parse
// is an error, never a silent fallback.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed default.toml
var defaultConfigTOML string

// DefaultConfigPath is where the daemon looks for its config file.
const DefaultConfigPath = "/etc/bfrt/bfrt.toml"

// MemoryDB is the device.db value that keeps the device model in memory.
const MemoryDB = ":memory:"

// Config is the top-level configuration.
type Config struct {
	Device  DeviceConfig  `toml:"device"`
	Logging LoggingConfig `toml:"logging"`
	Idle    IdleConfig    `toml:"idle"`
	Server  ServerConfig  `toml:"server"`
}

// DeviceConfig describes the device the daemon drives.
type DeviceConfig struct {
	ID    uint32 `toml:"id"`
	Pipes uint16 `toml:"pipes"`
	// DB is the device model database. Empty places it under the
	// runtime directory and MemoryDB keeps it in memory.
	DB string `toml:"db"`
	// Program is the P4Info file describing the tables.
	Program string `toml:"program"`
}

// LoggingConfig controls logging.
type LoggingConfig struct {
	// Level is a log spec such as "info" or "info,manager=debug".
	Level string `toml:"level"`
	// Format is "text" or "json".
	Format string `toml:"format"`
	// Components sets per-component levels when Level names only a
	// base level.
	Components map[string]string `toml:"components"`
}

// ToSpec folds Level and Components into one log spec. Overrides
// already present in Level win over Components.
func (c *LoggingConfig) ToSpec() string {
	base := c.Level
	if base == "" && len(c.Components) == 0 {
		return ""
	}
	if base == "" {
		base = "info"
	}
	parts := []string{base}
	for _, component := range slices.Sorted(maps.Keys(c.Components)) {
		if strings.Contains(base, component+"=") {
			continue
		}
		parts = append(parts, component+"="+c.Components[component])
	}
	return strings.Join(parts, ",")
}

// IdleConfig controls table aging.
type IdleConfig struct {
	// Workers bounds the notification worker pool of each table.
	Workers int `toml:"workers"`
	// SweepInterval is how often the device model advances entry
	// timers.
	SweepInterval Duration `toml:"sweep_interval"`
}

// ServerConfig controls the daemon's listeners.
type ServerConfig struct {
	RuntimeDir string `toml:"runtime_dir"`
	// MetricsAddr serves /metrics. Empty disables it.
	MetricsAddr string `toml:"metrics_addr"`
	// UsageTimeout bounds the table usage read done on each scrape.
	UsageTimeout Duration `toml:"usage_timeout"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns the configuration embedded in default.toml.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		panic(fmt.Sprintf("embedded default.toml: %v", err))
	}
	return cfg
}

// Load reads the config file at path over the defaults. A missing file
// yields the defaults. Keys the decoder does not know are an error so
// that typos do not pass silently.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot run
// with. Every problem is reported.
func (c *Config) Validate() error {
	var errs []error
	if c.Device.Pipes == 0 {
		errs = append(errs, errors.New("device.pipes must be positive"))
	}
	if c.Idle.Workers <= 0 {
		errs = append(errs, errors.New("idle.workers must be positive"))
	}
	if c.Idle.SweepInterval <= 0 {
		errs = append(errs, errors.New("idle.sweep_interval must be positive"))
	}
	if c.Server.RuntimeDir == "" {
		errs = append(errs, errors.New("server.runtime_dir must be set"))
	}
	if c.Server.UsageTimeout < 0 {
		errs = append(errs, errors.New("server.usage_timeout must not be negative"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is neither text nor json", c.Logging.Format))
	}
	return errors.Join(errs...)
}
