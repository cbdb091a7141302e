// Package config handles TOML-based configuration loading and validation.
// The file is parsed as data only; defaults are applied first and file
// values override them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"sora/internal/media"
)

// Config holds all application configuration.
type Config struct {
	DataDir                 string `toml:"data_dir"`
	Store                   string `toml:"store"`
	Debug                   bool   `toml:"debug"`
	PlaybackQuality         string `toml:"playback_quality"`
	DownloadQuality         string `toml:"download_quality"`
	DownloadDir             string `toml:"download_dir"`
	RemainingTimePercentage int    `toml:"remaining_time_percentage"`
	Player                  string `toml:"player"`
	SubsLanguage            string `toml:"subs_language"`
	AppName                 string `toml:"app_name"`
	AppVersion              string `toml:"app_version"`
}

// Default returns the default configuration.
// RemainingTimePercentage is left at zero so the ledger keeps whatever the
// store already holds (or its own default of 90).
func Default() *Config {
	return &Config{
		DataDir:         "",
		Store:           "badger",
		PlaybackQuality: string(media.QualityAuto),
		DownloadQuality: string(media.QualityBest),
		DownloadDir:     "~/Videos/sora",
		Player:          "mpv",
		SubsLanguage:    "english",
		AppName:         "Sora",
		AppVersion:      "dev",
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sora"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "sora"), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file and merges with defaults.
// If the config file doesn't exist, defaults are returned.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	validStores := map[string]bool{
		"badger": true, "sqlite": true, "memory": true,
	}
	if !validStores[strings.ToLower(c.Store)] {
		return fmt.Errorf("unsupported store %q (valid: badger, sqlite, memory)", c.Store)
	}

	for name, q := range map[string]string{
		"playback_quality": c.PlaybackQuality,
		"download_quality": c.DownloadQuality,
	} {
		if !media.Quality(q).Valid() {
			return fmt.Errorf("unsupported %s %q (valid: Auto, Best, High, Medium, Low)", name, q)
		}
	}

	if c.RemainingTimePercentage < 0 || c.RemainingTimePercentage > 100 {
		return fmt.Errorf("remaining_time_percentage must be within 0..100, got %d", c.RemainingTimePercentage)
	}

	if c.Player != "mpv" {
		return fmt.Errorf("unsupported player %q (valid: mpv)", c.Player)
	}

	if c.AppName == "" {
		return fmt.Errorf("app_name cannot be empty")
	}

	return nil
}

// ExpandDownloadDir resolves ~ in the download directory path.
func (c *Config) ExpandDownloadDir() (string, error) {
	return expandHome(c.DownloadDir)
}

// ExpandDataDir returns the data directory, defaulting to the XDG data home.
func (c *Config) ExpandDataDir() (string, error) {
	if c.DataDir != "" {
		return expandHome(c.DataDir)
	}
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "sora"), nil
}

func expandHome(dir string) (string, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home dir: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}
	return filepath.Abs(dir)
}
