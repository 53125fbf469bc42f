// Package config handles hold config parsing and location resolution.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// State drivers.
const (
	DriverSQLite = "sqlite"
	DriverLibSQL = "libsql"
	DriverFile   = "file"
)

// Defaults applied to fields left empty.
const (
	DefaultTimeout    = "30s"
	DefaultRetries    = 3
	DefaultRetryDelay = "2s"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
)

// ErrNoConfig is returned by FindConfig when no config file exists.
var ErrNoConfig = errors.New("no config found in standard locations")

// StateConfig selects where install records live.
type StateConfig struct {
	Driver string `yaml:"driver" toml:"driver" json:"driver"`
	DSN    string `yaml:"dsn,omitempty" toml:"dsn,omitempty" json:"dsn,omitempty"`
}

// TransportConfig tunes manifest and file fetches.
type TransportConfig struct {
	Timeout    string `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries    *int   `yaml:"retries,omitempty" toml:"retries,omitempty" json:"retries,omitempty"`
	RetryDelay string `yaml:"retry_delay,omitempty" toml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
	UserAgent  string `yaml:"user_agent,omitempty" toml:"user_agent,omitempty" json:"user_agent,omitempty"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty" toml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" toml:"format,omitempty" json:"format,omitempty"`
}

// Cargo is a cargo the config knows the manifest location of.
type Cargo struct {
	ID          string `yaml:"id" toml:"id" json:"id"`
	Name        string `yaml:"name,omitempty" toml:"name,omitempty" json:"name,omitempty"`
	ManifestURL string `yaml:"manifest_url" toml:"manifest_url" json:"manifest_url"`
}

// Config is the parsed config file.
type Config struct {
	CacheDir         string          `yaml:"cache_dir,omitempty" toml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	State            StateConfig     `yaml:"state" toml:"state" json:"state"`
	Transport        TransportConfig `yaml:"transport" toml:"transport" json:"transport"`
	Quota            string          `yaml:"quota,omitempty" toml:"quota,omitempty" json:"quota,omitempty"`
	DisallowReserved bool            `yaml:"disallow_reserved" toml:"disallow_reserved" json:"disallow_reserved"`
	Log              LogConfig       `yaml:"log" toml:"log" json:"log"`
	MetricsTextfile  string          `yaml:"metrics_textfile,omitempty" toml:"metrics_textfile,omitempty" json:"metrics_textfile,omitempty"`
	Cargos           []Cargo         `yaml:"cargos" toml:"cargos" json:"cargos"`
}

// Default returns a config with every default applied.
func Default() (*Config, error) {
	c := &Config{Cargos: []Cargo{}}
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCargo finds a cargo by id or name.
func (c *Config) GetCargo(ref string) (*Cargo, error) {
	for i := range c.Cargos {
		if c.Cargos[i].ID == ref || (c.Cargos[i].Name != "" && c.Cargos[i].Name == ref) {
			return &c.Cargos[i], nil
		}
	}
	return nil, fmt.Errorf("cargo not found: %s", ref)
}

// Timeout returns the parsed transport timeout.
func (c *Config) Timeout() time.Duration {
	d, _ := time.ParseDuration(c.Transport.Timeout)
	return d
}

// RetryDelay returns the parsed delay between retries.
func (c *Config) RetryDelay() time.Duration {
	d, _ := time.ParseDuration(c.Transport.RetryDelay)
	return d
}

// Retries returns the number of extra attempts per fetch.
func (c *Config) Retries() int {
	if c.Transport.Retries == nil {
		return DefaultRetries
	}
	return *c.Transport.Retries
}

// QuotaBytes returns the configured quota cap, 0 when the volume is used.
func (c *Config) QuotaBytes() int64 {
	if c.Quota == "" {
		return 0
	}
	n, _ := humanize.ParseBytes(c.Quota)
	return int64(n)
}

func (c *Config) applyDefaults() error {
	if c.CacheDir == "" || c.State.Driver == "" || (c.State.DSN == "" && c.State.Driver != DriverLibSQL) {
		cacheHome, err := xdgDir("XDG_CACHE_HOME", ".cache")
		if err != nil {
			return err
		}
		stateHome, err := xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
		if err != nil {
			return err
		}

		if c.CacheDir == "" {
			c.CacheDir = filepath.Join(cacheHome, "hold")
		}
		if c.State.Driver == "" {
			c.State.Driver = DriverSQLite
		}
		if c.State.DSN == "" {
			switch c.State.Driver {
			case DriverSQLite:
				c.State.DSN = filepath.Join(stateHome, "hold", "state.db")
			case DriverFile:
				c.State.DSN = filepath.Join(stateHome, "hold", "records")
			}
		}
	}

	if c.Transport.Timeout == "" {
		c.Transport.Timeout = DefaultTimeout
	}
	if c.Transport.RetryDelay == "" {
		c.Transport.RetryDelay = DefaultRetryDelay
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Cargos == nil {
		c.Cargos = []Cargo{}
	}
	return nil
}

// xdgDir returns $env, or ~/fallback when it is unset.
func xdgDir(env, fallback string) (string, error) {
	if dir := os.Getenv(env); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, fallback), nil
}

// FindConfig searches for a config file in the standard locations.
// Returns the path to the first config found, or an error if none exists.
func FindConfig(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("specified config not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Check HOLD_CONFIG environment variable
	if envPath := os.Getenv("HOLD_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	searchPaths := []string{
		filepath.Join(xdgConfig, "hold"),
		filepath.Join(home, ".hold"),
	}

	fileNames := []string{
		"config",
		"config.yaml",
		"config.yml",
		"config.toml",
		"config.json",
	}

	for _, dir := range searchPaths {
		for _, name := range fileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", ErrNoConfig
}

// Load reads and parses a config file from the given path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	format := detectFormat(path, content)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unable to detect file format for %s", path)
	}

	cfg, err := parse(content, format)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
