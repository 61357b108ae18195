// Package config loads effigy's global configuration from
// ~/.config/effigy/config.toml via viper: platform-aware config
// directory resolution, defaults for the scheduler's concurrency
// ceiling, and the UI knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// AppName names the XDG config subdirectory.
const AppName = "effigy"

const (
	ConfigFileName = "config"
	ConfigFileExt  = "toml"
)

// Config holds effigy's global (cross-workspace) configuration.
type Config struct {
	// MaxParallel is the scheduler's default concurrency ceiling. A
	// selector run replaces it with the workspace-root catalog's
	// [test].max_parallel when that is set.
	MaxParallel int `toml:"max_parallel" mapstructure:"max_parallel"`
	// SearchPaths lists additional directories. It is loaded and
	// defaulted here; root resolution does not consult it.
	SearchPaths []string `toml:"search_paths" mapstructure:"search_paths"`
	UI          UIConfig `toml:"ui" mapstructure:"ui"`
}

// UIConfig configures the small amount of human-facing output the core
// itself renders (ambiguity listings, lock-conflict diagnostics).
type UIConfig struct {
	ColorScheme string `toml:"color_scheme" mapstructure:"color_scheme"`
	Verbose     bool   `toml:"verbose" mapstructure:"verbose"`
}

var (
	globalConfig *Config
	configPath   string
)

// DefaultConfig returns effigy's built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxParallel: 3,
		SearchPaths: []string{},
		UI: UIConfig{
			ColorScheme: "auto",
			Verbose:     false,
		},
	}
}

// ConfigDir returns effigy's XDG-aware configuration directory.
func ConfigDir() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = os.Getenv("APPDATA")
		if dir == "" {
			dir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
		dir = filepath.Join(home, "Library", "Application Support")
	default:
		dir = os.Getenv("XDG_CONFIG_HOME")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("get home directory: %w", err)
			}
			dir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(dir, AppName), nil
}

// Load reads and parses config.toml, falling back to DefaultConfig when
// no file is present. The result is cached process-wide.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType(ConfigFileExt)

	cfgDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	v.AddConfigPath(cfgDir)
	v.AddConfigPath(".")

	defaults := DefaultConfig()
	v.SetDefault("max_parallel", defaults.MaxParallel)
	v.SetDefault("search_paths", defaults.SearchPaths)
	v.SetDefault("ui.color_scheme", defaults.UI.ColorScheme)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			globalConfig = defaults
			return globalConfig, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	configPath = v.ConfigFileUsed()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	globalConfig = &cfg
	return globalConfig, nil
}

// Get returns the cached configuration, loading it with defaults on
// first use if Load has not already been called or failed.
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			return DefaultConfig()
		}
		return cfg
	}
	return globalConfig
}

// ConfigFilePath returns the path config was actually loaded from, or
// empty if defaults are in effect.
func ConfigFilePath() string {
	return configPath
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// CreateDefaultConfig writes a default config.toml if one does not
// already exist, used by `effigy init`.
func CreateDefaultConfig() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := toml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	header := []byte("# effigy global configuration\n\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}

// Reset clears the cached configuration. Used by tests.
func Reset() {
	globalConfig = nil
	configPath = ""
}
