package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Store != "badger" {
		t.Errorf("default store = %q, want badger", cfg.Store)
	}
	if cfg.PlaybackQuality != "Auto" {
		t.Errorf("default playback quality = %q, want Auto", cfg.PlaybackQuality)
	}
	if cfg.DownloadQuality != "Best" {
		t.Errorf("default download quality = %q, want Best", cfg.DownloadQuality)
	}
	if cfg.RemainingTimePercentage != 0 {
		t.Errorf("default remaining percentage = %d, want 0 (unset)", cfg.RemainingTimePercentage)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"invalid store", func(c *Config) { c.Store = "postgres" }, true},
		{"invalid playback quality", func(c *Config) { c.PlaybackQuality = "4k" }, true},
		{"invalid download quality", func(c *Config) { c.DownloadQuality = "1080" }, true},
		{"negative percentage", func(c *Config) { c.RemainingTimePercentage = -1 }, true},
		{"percentage over 100", func(c *Config) { c.RemainingTimePercentage = 101 }, true},
		{"invalid player", func(c *Config) { c.Player = "notepad" }, true},
		{"empty app name", func(c *Config) { c.AppName = "" }, true},
		{"valid sqlite", func(c *Config) { c.Store = "sqlite" }, false},
		{"valid low download", func(c *Config) { c.DownloadQuality = "Low" }, false},
		{"valid 85 percent", func(c *Config) { c.RemainingTimePercentage = 85 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromTOML(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	content := `
store = "memory"
playback_quality = "High"
download_quality = "Medium"
remaining_time_percentage = 80
debug = true
`
	soraDir := filepath.Join(tmpDir, "sora")
	if err := os.MkdirAll(soraDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(soraDir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Store != "memory" {
		t.Errorf("store = %q, want memory", cfg.Store)
	}
	if cfg.PlaybackQuality != "High" {
		t.Errorf("playback quality = %q, want High", cfg.PlaybackQuality)
	}
	if cfg.DownloadQuality != "Medium" {
		t.Errorf("download quality = %q, want Medium", cfg.DownloadQuality)
	}
	if cfg.RemainingTimePercentage != 80 {
		t.Errorf("remaining percentage = %d, want 80", cfg.RemainingTimePercentage)
	}
	if !cfg.Debug {
		t.Error("debug should be true")
	}
	if cfg.AppName != "Sora" {
		t.Errorf("unset field should keep default, got app name %q", cfg.AppName)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	soraDir := filepath.Join(tmpDir, "sora")
	os.MkdirAll(soraDir, 0755)
	os.WriteFile(filepath.Join(soraDir, "config.toml"), []byte(`store = "etcd"`), 0644)

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject an unsupported store")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() should not error on missing file: %v", err)
	}
	if cfg.Store != "badger" {
		t.Errorf("missing file should return defaults, got store = %q", cfg.Store)
	}
}

func TestExpandDownloadDir(t *testing.T) {
	cfg := Default()
	cfg.DownloadDir = "/tmp/test-downloads"

	dir, err := cfg.ExpandDownloadDir()
	if err != nil {
		t.Fatalf("ExpandDownloadDir() error: %v", err)
	}
	if dir != "/tmp/test-downloads" {
		t.Errorf("got %q, want /tmp/test-downloads", dir)
	}
}

func TestExpandDataDirUsesXDG(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmpDir)

	dir, err := Default().ExpandDataDir()
	if err != nil {
		t.Fatalf("ExpandDataDir() error: %v", err)
	}
	if want := filepath.Join(tmpDir, "sora"); dir != want {
		t.Errorf("got %q, want %q", dir, want)
	}
}
