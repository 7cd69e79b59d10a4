// Package config loads katcore's TOML configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
)

const (
	// HomeEnv overrides the XDG-derived data directory.
	HomeEnv = "KATCORE_HOME"

	appName        = "katcore"
	configFileName = "config.toml"
	dbFileName     = "katcore.db"
)

// Config represents the main configuration for katcore.
type Config struct {
	DataDir     string         `toml:"data_dir"`
	LogLevel    string         `toml:"log_level"`
	LibraryPath string         `toml:"library_path,omitempty"` // empty: use the embedded dataset
	Sync        SyncConfig     `toml:"sync"`
	Identify    IdentifyConfig `toml:"identify"`
}

// SyncConfig controls the replication protocol and the background scheduler.
type SyncConfig struct {
	Interval      Duration `toml:"interval"`
	HTTPTimeout   Duration `toml:"http_timeout"`
	Collection    string   `toml:"collection"`
	ProbeInterval Duration `toml:"probe_interval"`
}

// IdentifyConfig holds the ranking defaults used after capture.
type IdentifyConfig struct {
	TopK         int     `toml:"top_k"`
	CosineWeight float64 `toml:"cosine_weight"`
}

// Duration is a time.Duration that reads and writes as "5m", "30s", ...
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DataDir:  DefaultDataDir(),
		LogLevel: "info",
		Sync: SyncConfig{
			Interval:      Duration{5 * time.Minute},
			HTTPTimeout:   Duration{30 * time.Second},
			Collection:    "kat_sessions",
			ProbeInterval: Duration{30 * time.Second},
		},
		Identify: IdentifyConfig{
			TopK:         5,
			CosineWeight: 0.5,
		},
	}
}

// DefaultDataDir resolves the data directory: KATCORE_HOME first, then the XDG
// data home, then ~/.local/share.
func DefaultDataDir() string {
	if explicit := os.Getenv(HomeEnv); explicit != "" {
		return explicit
	}

	xdg.Reload()

	dataHome := xdg.DataHome
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, appName)
}

// DefaultPath returns the config file location: inside KATCORE_HOME when set,
// otherwise under the XDG config home.
func DefaultPath() string {
	if explicit := os.Getenv(HomeEnv); explicit != "" {
		return filepath.Join(explicit, configFileName)
	}
	xdg.Reload()
	return filepath.Join(xdg.ConfigHome, appName, configFileName)
}

// DBPath returns the SQLite file inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, dbFileName)
}

// Validate rejects values the rest of the system cannot work with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Sync.Interval.Duration <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Sync.HTTPTimeout.Duration <= 0 {
		return fmt.Errorf("sync.http_timeout must be positive")
	}
	if c.Sync.Collection == "" {
		return fmt.Errorf("sync.collection must not be empty")
	}
	if c.Identify.TopK <= 0 {
		return fmt.Errorf("identify.top_k must be positive")
	}
	if c.Identify.CosineWeight < 0 || c.Identify.CosineWeight > 1 {
		return fmt.Errorf("identify.cosine_weight must be within [0, 1]")
	}
	return nil
}

// Read decodes a Config from r on top of the defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Load reads the file at path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Write persists cfg to path, creating the parent directory.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
