package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/lazypower/nest/internal/filter"
)

// Config holds all nest configuration.
type Config struct {
	LogLevel string   `toml:"log_level"` // debug, info, warn, error
	LogFile  string   `toml:"log_file"`  // empty: <config dir>/nest/nest.log
	Ignore   []string `toml:"ignore"`

	Workspace WorkspaceConfig `toml:"workspace"`
	Floating  FloatingConfig  `toml:"floating"`
	Restore   RestoreConfig   `toml:"restore"`
	Storage   StorageConfig   `toml:"storage"`
	Server    ServerConfig    `toml:"server"`

	// Pre-sectioned files kept these at the top level.
	LegacyTau           *float64 `toml:"tau,omitempty"`
	LegacyBuffer        *int     `toml:"buffer,omitempty"`
	LegacySaveFrequency *int     `toml:"save_frequency,omitempty"`
}

type FilterConfig struct {
	Mode     filter.Mode `toml:"mode"`
	Programs []string    `toml:"programs"`
}

// Policy builds the filter described by f.
func (f FilterConfig) Policy() filter.Policy {
	return filter.New(f.Mode, f.Programs)
}

type WorkspaceConfig struct {
	Buffer int          `toml:"buffer"` // placements kept per program
	Tau    float64      `toml:"tau"`    // decay constant, seconds
	Filter FilterConfig `toml:"filter"`
}

type FloatingConfig struct {
	PollInterval int          `toml:"poll_interval"` // seconds
	Filter       FilterConfig `toml:"filter"`
}

type RestoreConfig struct {
	Timeout int          `toml:"timeout"` // seconds
	Filter  FilterConfig `toml:"filter"`
}

type StorageConfig struct {
	Backend       string `toml:"backend"` // "file" or "sqlite"
	Path          string `toml:"path"`
	SaveFrequency int    `toml:"save_frequency"` // seconds
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
	Port    int    `toml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Ignore:   []string{},
		Workspace: WorkspaceConfig{
			Buffer: 30,
			Tau:    3600,
			Filter: FilterConfig{Mode: filter.Exclude, Programs: []string{}},
		},
		Floating: FloatingConfig{
			PollInterval: 2,
			Filter:       FilterConfig{Mode: filter.Exclude, Programs: []string{}},
		},
		Restore: RestoreConfig{
			Timeout: 5,
			Filter:  FilterConfig{Mode: filter.Include, Programs: []string{}},
		},
		Storage: StorageConfig{
			Backend:       "file",
			Path:          "", // resolved at runtime via store.DefaultPath()
			SaveFrequency: 10,
		},
		Server: ServerConfig{
			Enabled: false,
			Bind:    "127.0.0.1",
			Port:    37778,
		},
	}
}

// Dir returns the nest config directory: <user config dir>/nest.
func Dir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	return filepath.Join(dir, "nest"), nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config at path. A missing file is created with the
// defaults. Keys absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := cfg.WriteFile(path); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("stat config: %w", err)
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("parse %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.migrateLegacy()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) migrateLegacy() {
	if c.LegacyTau != nil {
		c.Workspace.Tau = *c.LegacyTau
	}
	if c.LegacyBuffer != nil {
		c.Workspace.Buffer = *c.LegacyBuffer
	}
	if c.LegacySaveFrequency != nil {
		c.Storage.SaveFrequency = *c.LegacySaveFrequency
	}
	c.LegacyTau, c.LegacyBuffer, c.LegacySaveFrequency = nil, nil, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		problems = append(problems, fmt.Sprintf("log_level %q must be debug, info, warn or error", c.LogLevel))
	}
	if c.Workspace.Buffer < 1 {
		problems = append(problems, "workspace.buffer must be at least 1")
	}
	if c.Workspace.Tau <= 0 {
		problems = append(problems, "workspace.tau must be positive")
	}
	if c.Floating.PollInterval < 1 {
		problems = append(problems, "floating.poll_interval must be at least 1")
	}
	if c.Restore.Timeout < 0 {
		problems = append(problems, "restore.timeout must not be negative")
	}
	if c.Storage.Backend != "file" && c.Storage.Backend != "sqlite" {
		problems = append(problems, fmt.Sprintf("storage.backend %q must be file or sqlite", c.Storage.Backend))
	}
	if c.Storage.SaveFrequency < 1 {
		problems = append(problems, "storage.save_frequency must be at least 1")
	}
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Encode writes c as TOML.
func (c Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// WriteFile writes c to path, creating the directory if needed.
func (c Config) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if err := c.Encode(f); err != nil {
		f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// LogPath returns the log file, defaulting to <config dir>/nest/nest.log.
func (c *Config) LogPath() (string, error) {
	if c.LogFile != "" {
		return c.LogFile, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "nest.log"), nil
}

func (c FloatingConfig) Interval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

func (c RestoreConfig) Window() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c StorageConfig) Interval() time.Duration {
	return time.Duration(c.SaveFrequency) * time.Second
}
